package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/thinkparq/updater-go/common/filesystem"
	"github.com/thinkparq/updater-go/server/pkg/publish"
)

func validConfig() *AppConfig {
	c := &AppConfig{}
	c.Repository.Base = "/var/lib/updater"
	c.Server.Address = "0.0.0.0:8080"
	c.Server.TlsDisable = true
	return c
}

func TestValidateConfig(t *testing.T) {
	assert.NoError(t, validConfig().ValidateConfig())

	c := validConfig()
	c.Repository.Base = " "
	c.Server.Address = ""
	err := c.ValidateConfig()
	assert.ErrorContains(t, err, "repository.base")
	assert.ErrorContains(t, err, "server.address")

	c = validConfig()
	c.Server.TlsDisable = false
	c.Server.TlsCertFile = "/etc/cert.pem"
	assert.ErrorContains(t, c.ValidateConfig(), "tls-key-file")

	c = validConfig()
	c.Publish = publish.Config{AppIgnore: map[string]filesystem.IgnoreRules{"appX": {Patterns: []string{"[broken"}}}}
	assert.ErrorContains(t, c.ValidateConfig(), "publish.app-ignore.appX")

	c = validConfig()
	c.Mirror.Bucket = "releases"
	c.Mirror.AccessKey = "key"
	assert.ErrorContains(t, c.ValidateConfig(), "secret-key")
}

func TestUpdateAllowed(t *testing.T) {
	current := validConfig()

	next := validConfig()
	next.Log.Level = 5
	next.Publish.Ignore.Names = []string{".DS_Store"}
	assert.NoError(t, current.UpdateAllowed(next))

	next = validConfig()
	next.Repository.Base = "/srv/updater"
	next.Server.Address = "0.0.0.0:9090"
	err := current.UpdateAllowed(next)
	assert.ErrorContains(t, err, "repository settings")
	assert.ErrorContains(t, err, "server settings")

	next = validConfig()
	next.Mirror.Bucket = "releases"
	assert.ErrorContains(t, current.UpdateAllowed(next), "mirror settings")
}
