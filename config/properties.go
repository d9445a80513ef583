package config

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
)

// PropertyPrefix is stripped from incoming property keys, so both
// "greenmail.setup.all" and "setup.all" select every protocol.
const PropertyPrefix = "greenmail."

// FromProperties builds a configuration from a GreenMail-style property map.
// Key presence matters: flags such as "auth.disabled" are enabled by being
// present, regardless of value.
//
// Recognized keys (prefix optional):
//
//	setup.<protocol|all>           enable protocol on its default port, 127.0.0.1
//	setup.test.<protocol|all>      same, with port offset 3000
//	<protocol>.hostname, <protocol>.port
//	users=<login[:pwd][@domain]>[,...]
//	users.login=(local_part|email)
//	auth.disabled
//	verbose
//	hostname=<name>
//	startup.timeout=<milliseconds>
//	foldersCreate=<login>:<folder>[,...]
//	emlFileLoad=<login>:<file>
//	emlFilesDirLoad=<login>:<dir>
//
// Protocols are smtp, smtps, imap, imaps, pop3, pop3s and api.
func FromProperties(properties map[string]string) (*Config, error) {
	cfg := NewDefaultConfig()

	props := make(map[string]string, len(properties))
	for k, v := range properties {
		props[strings.TrimPrefix(k, PropertyPrefix)] = v
	}

	has := func(key string) bool {
		_, ok := props[key]
		return ok
	}

	if has("verbose") {
		cfg.Logging.Level = "debug"
	}
	if v, ok := props["hostname"]; ok && v != "" {
		cfg.Hostname = v
	}
	if v, ok := props["startup.timeout"]; ok {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid startup.timeout %q", v)
		}
		cfg.StartupTimeout = fmt.Sprintf("%dms", ms)
	}

	serverFor := func(protocol string) *ServerConfig {
		switch protocol {
		case "smtp":
			return &cfg.SMTP
		case "smtps":
			return &cfg.SMTPS
		case "imap":
			return &cfg.IMAP
		case "imaps":
			return &cfg.IMAPS
		case "pop3":
			return &cfg.POP3
		case "pop3s":
			return &cfg.POP3S
		}
		return nil
	}

	enable := func(protocol string, offset int) {
		port := DefaultPorts[protocol] + offset
		addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
		if protocol == "api" {
			cfg.API.Start = true
			cfg.API.Addr = addr
			return
		}
		sc := serverFor(protocol)
		sc.Start = true
		sc.Addr = addr
	}

	protocols := []string{"smtp", "smtps", "imap", "imaps", "pop3", "pop3s", "api"}
	for _, p := range protocols {
		if has("setup.all") || has("setup." + p) {
			enable(p, 0)
		}
		if has("setup.test.all") || has("setup.test."+p) {
			enable(p, TestPortOffset)
		}
	}

	// Explicit hostname/port pairs override (and enable) a listener.
	for _, p := range protocols {
		host, hasHost := props[p+".hostname"]
		portStr, hasPort := props[p+".port"]
		if !hasHost && !hasPort {
			continue
		}
		if !hasHost || !hasPort {
			return nil, fmt.Errorf("%s.hostname and %s.port must be configured together", p, p)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 0 || port > 65535 {
			return nil, fmt.Errorf("invalid %s.port %q", p, portStr)
		}
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		if p == "api" {
			cfg.API.Start = true
			cfg.API.Addr = addr
			continue
		}
		sc := serverFor(p)
		sc.Start = true
		sc.Addr = addr
	}

	if has("auth.disabled") {
		cfg.Auth.Disabled = true
	}
	if v, ok := props["users.login"]; ok {
		switch v {
		case "local_part", "email":
			cfg.Auth.LoginForm = v
		default:
			return nil, fmt.Errorf("invalid users.login %q (want local_part or email)", v)
		}
	}
	if v, ok := props["users"]; ok && v != "" {
		users, err := ParseUsers(v, cfg.GetHostname(), cfg.Auth.GetLoginForm())
		if err != nil {
			return nil, err
		}
		cfg.Auth.Users = users
	}

	cfg.PostStart.FoldersCreate = props["foldersCreate"]
	cfg.PostStart.EmlFilesDirLoad = props["emlFilesDirLoad"]
	cfg.PostStart.EmlFileLoad = props["emlFileLoad"]
	if v, ok := props["imap.loadEmlFile"]; ok {
		// The logger package depends on config, so this goes through the
		// default slog logger, which Initialize points at the same handler.
		slog.Warn("Property imap.loadEmlFile is deprecated, use emlFileLoad")
		if cfg.PostStart.EmlFileLoad == "" {
			cfg.PostStart.EmlFileLoad = v
		}
	}

	return cfg, nil
}

// ParseUsers parses a comma-separated user list in the form
// "login:pwd@domain". Password and domain are optional; a missing domain
// defaults to the given hostname, and a missing password defaults to the
// login name.
func ParseUsers(spec, hostname, loginForm string) ([]UserConfig, error) {
	var users []UserConfig
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		login := entry
		password := ""
		domain := ""

		if i := strings.LastIndex(login, "@"); i >= 0 {
			domain = login[i+1:]
			login = login[:i]
		}
		if i := strings.Index(login, ":"); i >= 0 {
			password = login[i+1:]
			login = login[:i]
		}
		if login == "" {
			return nil, fmt.Errorf("invalid user entry %q", entry)
		}
		if password == "" {
			password = login
		}
		if domain == "" {
			domain = hostname
		}

		email := login + "@" + domain
		loginName := login
		if loginForm == "email" {
			loginName = email
		}
		users = append(users, UserConfig{
			Email:    email,
			Login:    loginName,
			Password: password,
		})
	}
	return users, nil
}
