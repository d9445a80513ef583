package stubmail

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/stubmail/stubmail/logger"
	"github.com/stubmail/stubmail/store"
)

// runPostStartActions executes the configured post-start steps: folder
// creation first, then EML loading, so loaded mail can target folders
// created in the same run.
func (s *Server) runPostStartActions() error {
	ps := s.cfg.PostStart

	if ps.FoldersCreate != "" {
		if err := s.createFolders(ps.FoldersCreate); err != nil {
			return err
		}
	}
	if ps.EmlFilesDirLoad != "" {
		if err := s.loadEmlDir(ps.EmlFilesDirLoad); err != nil {
			return err
		}
	}
	if ps.EmlFileLoad != "" {
		if err := s.loadEmlFile(ps.EmlFileLoad); err != nil {
			return err
		}
	}
	return nil
}

// splitUserSpec splits "login:rest" at the first colon.
func splitUserSpec(spec string) (login, rest string, err error) {
	i := strings.Index(spec, ":")
	if i <= 0 || i == len(spec)-1 {
		return "", "", fmt.Errorf("malformed spec %q, want \"login:value\"", spec)
	}
	return spec[:i], spec[i+1:], nil
}

func (s *Server) postStartUser(login string) (*store.User, error) {
	user, err := s.store.User(login)
	if err != nil {
		// Auto-provision so post-start actions work without a users= entry.
		user, err = s.store.Authenticate(login, "")
		if err != nil {
			return nil, fmt.Errorf("unknown user %q", login)
		}
	}
	return user, nil
}

// createFolders handles "login:folder1,folder2,...".
func (s *Server) createFolders(spec string) error {
	login, list, err := splitUserSpec(spec)
	if err != nil {
		return err
	}
	user, err := s.postStartUser(login)
	if err != nil {
		return err
	}

	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, err := user.CreateFolder(name); err != nil {
			return fmt.Errorf("failed to create folder %q for %s: %w", name, login, err)
		}
		logger.Info("Created folder", "user", login, "folder", name)
	}
	return nil
}

// loadEmlFile handles "login:/path/to/message.eml": the file is appended
// to the user's INBOX as if it had just arrived.
func (s *Server) loadEmlFile(spec string) error {
	login, path, err := splitUserSpec(spec)
	if err != nil {
		return err
	}
	user, err := s.postStartUser(login)
	if err != nil {
		return err
	}
	return appendEml(user, path)
}

// loadEmlDir handles "login:/path/to/dir": every *.eml file in the
// directory is loaded in name order.
func (s *Server) loadEmlDir(spec string) error {
	login, dir, err := splitUserSpec(spec)
	if err != nil {
		return err
	}
	user, err := s.postStartUser(login)
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read EML directory %q: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".eml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if err := appendEml(user, filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

func appendEml(user *store.User, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read EML file %q: %w", path, err)
	}
	msg, err := user.Inbox().Append(raw, nil, time.Now())
	if err != nil {
		return fmt.Errorf("failed to load EML file %q: %w", path, err)
	}
	logger.Info("Loaded EML file", "user", user.Login(), "file", path, "uid", msg.UID, "size", msg.Size())
	return nil
}
