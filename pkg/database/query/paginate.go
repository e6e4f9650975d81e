package query

import (
	"fmt"
	"strings"
)

// Paginate extends stmt, which must end in a parenthesised WHERE clause such
// as "SELECT ... WHERE (...)", with the page's cursor, ordering and limit.
// New placeholders are numbered after args.
func Paginate(stmt string, args []interface{}, page *Page) (string, []interface{}) {
	var b strings.Builder
	b.WriteString(stmt)

	if len(page.Cursor) > 0 {
		cmp := ">"
		if page.Order == Descending {
			cmp = "<"
		}
		args = append(args, page.Cursor.ToUint64())
		fmt.Fprintf(&b, " AND id %s $%d", cmp, len(args))
	}

	fmt.Fprintf(&b, " ORDER BY id %s", strings.ToUpper(page.Order.String()))

	if page.Limit > 0 {
		args = append(args, page.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}

	return b.String(), args
}
