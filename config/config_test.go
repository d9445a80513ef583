package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromPropertiesSetupTestAll(t *testing.T) {
	cfg, err := FromProperties(map[string]string{
		"greenmail.setup.test.all": "",
	})
	require.NoError(t, err)

	assert.True(t, cfg.SMTP.Start)
	assert.Equal(t, "127.0.0.1:3025", cfg.SMTP.Addr)
	assert.True(t, cfg.SMTPS.Start)
	assert.Equal(t, "127.0.0.1:3465", cfg.SMTPS.Addr)
	assert.True(t, cfg.IMAP.Start)
	assert.Equal(t, "127.0.0.1:3143", cfg.IMAP.Addr)
	assert.True(t, cfg.IMAPS.Start)
	assert.Equal(t, "127.0.0.1:3993", cfg.IMAPS.Addr)
	assert.True(t, cfg.POP3.Start)
	assert.Equal(t, "127.0.0.1:3110", cfg.POP3.Addr)
	assert.True(t, cfg.POP3S.Start)
	assert.Equal(t, "127.0.0.1:3995", cfg.POP3S.Addr)
	assert.True(t, cfg.API.Start)
	assert.Equal(t, "127.0.0.1:11080", cfg.API.Addr)
}

func TestFromPropertiesSingleProtocol(t *testing.T) {
	cfg, err := FromProperties(map[string]string{
		"greenmail.setup.smtp": "",
	})
	require.NoError(t, err)

	assert.True(t, cfg.SMTP.Start)
	assert.Equal(t, "127.0.0.1:25", cfg.SMTP.Addr)
	assert.False(t, cfg.IMAP.Start)
	assert.False(t, cfg.POP3.Start)
	assert.False(t, cfg.API.Start)
}

func TestFromPropertiesPrefixOptional(t *testing.T) {
	cfg, err := FromProperties(map[string]string{
		"setup.test.imap": "",
	})
	require.NoError(t, err)
	assert.True(t, cfg.IMAP.Start)
	assert.Equal(t, "127.0.0.1:3143", cfg.IMAP.Addr)
}

func TestFromPropertiesExplicitHostnamePort(t *testing.T) {
	cfg, err := FromProperties(map[string]string{
		"greenmail.imap.hostname": "0.0.0.0",
		"greenmail.imap.port":     "9143",
	})
	require.NoError(t, err)
	assert.True(t, cfg.IMAP.Start)
	assert.Equal(t, "0.0.0.0:9143", cfg.IMAP.Addr)
}

func TestFromPropertiesHostnameWithoutPort(t *testing.T) {
	_, err := FromProperties(map[string]string{
		"greenmail.imap.hostname": "0.0.0.0",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be configured together")
}

func TestFromPropertiesFlagsArePresenceBased(t *testing.T) {
	cfg, err := FromProperties(map[string]string{
		"greenmail.setup.test.smtp": "",
		"greenmail.auth.disabled":   "",
		"greenmail.verbose":         "",
	})
	require.NoError(t, err)
	assert.True(t, cfg.Auth.Disabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestFromPropertiesStartupTimeout(t *testing.T) {
	cfg, err := FromProperties(map[string]string{
		"greenmail.setup.test.smtp": "",
		"greenmail.startup.timeout": "2500",
	})
	require.NoError(t, err)
	assert.Equal(t, 2500, int(cfg.GetStartupTimeout().Milliseconds()))

	_, err = FromProperties(map[string]string{
		"greenmail.startup.timeout": "soon",
	})
	assert.Error(t, err)
}

func TestFromPropertiesUsers(t *testing.T) {
	cfg, err := FromProperties(map[string]string{
		"greenmail.setup.test.smtp": "",
		"greenmail.hostname":        "example.com",
		"greenmail.users":           "alice:secret@wonderland.net,bob",
	})
	require.NoError(t, err)
	require.Len(t, cfg.Auth.Users, 2)

	assert.Equal(t, "alice@wonderland.net", cfg.Auth.Users[0].Email)
	assert.Equal(t, "alice", cfg.Auth.Users[0].Login)
	assert.Equal(t, "secret", cfg.Auth.Users[0].Password)

	// Missing password defaults to login, missing domain to hostname.
	assert.Equal(t, "bob@example.com", cfg.Auth.Users[1].Email)
	assert.Equal(t, "bob", cfg.Auth.Users[1].Login)
	assert.Equal(t, "bob", cfg.Auth.Users[1].Password)
}

func TestFromPropertiesUsersLoginEmail(t *testing.T) {
	cfg, err := FromProperties(map[string]string{
		"greenmail.setup.test.smtp": "",
		"greenmail.users.login":     "email",
		"greenmail.users":           "carol:pwd@example.org",
	})
	require.NoError(t, err)
	require.Len(t, cfg.Auth.Users, 1)
	assert.Equal(t, "carol@example.org", cfg.Auth.Users[0].Login)

	_, err = FromProperties(map[string]string{
		"greenmail.users.login": "uppercase",
	})
	assert.Error(t, err)
}

func TestFromPropertiesDeprecatedLoadEmlFile(t *testing.T) {
	cfg, err := FromProperties(map[string]string{
		"greenmail.setup.test.imap":  "",
		"greenmail.imap.loadEmlFile": "to:/old/path.eml",
	})
	require.NoError(t, err)
	assert.Equal(t, "to:/old/path.eml", cfg.PostStart.EmlFileLoad)

	// The modern key wins when both are set.
	cfg, err = FromProperties(map[string]string{
		"greenmail.setup.test.imap":  "",
		"greenmail.emlFileLoad":      "to:/new/path.eml",
		"greenmail.imap.loadEmlFile": "to:/old/path.eml",
	})
	require.NoError(t, err)
	assert.Equal(t, "to:/new/path.eml", cfg.PostStart.EmlFileLoad)
}

func TestParseUsersForms(t *testing.T) {
	tests := []struct {
		name     string
		spec     string
		wantErr  bool
		email    string
		login    string
		password string
	}{
		{name: "full form", spec: "u:p@d.tld", email: "u@d.tld", login: "u", password: "p"},
		{name: "no password", spec: "u@d.tld", email: "u@d.tld", login: "u", password: "u"},
		{name: "no domain", spec: "u:p", email: "u@localhost", login: "u", password: "p"},
		{name: "bare login", spec: "u", email: "u@localhost", login: "u", password: "u"},
		{name: "empty login", spec: ":p@d.tld", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users, err := ParseUsers(tt.spec, "localhost", "local_part")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, users, 1)
			assert.Equal(t, tt.email, users[0].Email)
			assert.Equal(t, tt.login, users[0].Login)
			assert.Equal(t, tt.password, users[0].Password)
		})
	}
}

func TestAnyServerEnabled(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.False(t, cfg.AnyServerEnabled())

	cfg.POP3.Start = true
	assert.True(t, cfg.AnyServerEnabled())

	cfg = NewDefaultConfig()
	cfg.API.Start = true
	assert.True(t, cfg.AnyServerEnabled())
}
