// Package docker starts throwaway dependency containers for integration
// tests.
package docker

import (
	"fmt"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// AutoKill bounds a container's lifetime when a test run dies before its
// teardown.
const AutoKill = 2 * time.Minute

// Container is a running container with one published port.
type Container struct {
	resource *dockertest.Resource
	pool     *dockertest.Pool

	// Address is the host:port the container port is published on.
	Address string
}

// Run starts image:tag with env, publishing port/tcp.
func Run(pool *dockertest.Pool, image, tag string, port int, env ...string) (*Container, error) {
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: image,
		Tag:        tag,
		Env:        env,
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to start %s:%s", image, tag)
	}

	// Expire never fails
	_ = resource.Expire(uint(AutoKill.Seconds()))

	return &Container{
		resource: resource,
		pool:     pool,
		Address:  resource.GetHostPort(fmt.Sprintf("%d/tcp", port)),
	}, nil
}

// Purge stops and removes the container.
func (c *Container) Purge() {
	if err := c.pool.Purge(c.resource); err != nil {
		logrus.StandardLogger().WithError(err).WithField("container", c.resource.Container.Name).Warn("failed to purge container")
	}
}
