package etcdtest

import (
	"context"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/pkg/errors"
	v3 "go.etcd.io/etcd/client/v3"

	"github.com/code-payments/stake-pool-server/pkg/testutil/docker"
)

const (
	image = "quay.io/coreos/etcd"
	tag   = "v3.5.13"
	port  = 2379
)

// StartEtcd runs a single etcd node and returns a client connected to it once
// it answers reads.
func StartEtcd(pool *dockertest.Pool) (*v3.Client, func(), error) {
	container, err := docker.Run(pool, image, tag, port,
		"ALLOW_NONE_AUTHENTICATION=true",
		"ETCD_LISTEN_CLIENT_URLS=http://0.0.0.0:2379",
		"ETCD_ADVERTISE_CLIENT_URLS=http://0.0.0.0:2379",
	)
	if err != nil {
		return nil, func() {}, err
	}

	client, err := v3.New(v3.Config{Endpoints: []string{container.Address}})
	if err != nil {
		container.Purge()
		return nil, func() {}, errors.Wrap(err, "failed to create etcd client")
	}

	teardown := func() {
		client.Close()
		container.Purge()
	}

	err = pool.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		_, err := client.Get(ctx, "/stakepool/health")
		return err
	})
	if err != nil {
		teardown()
		return nil, func() {}, errors.Wrap(err, "etcd never became ready")
	}

	return client, teardown, nil
}
