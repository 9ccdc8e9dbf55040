// Package directory holds the credential and group stores. Both are loaded
// once at startup from flat files and are read-only for the process
// lifetime, so lookups need no locking.
package directory

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"ipchat/models"
)

// MaxUsernameLen is the longest accepted username in bytes.
const MaxUsernameLen = 31

type Directory struct {
	users  map[string]string // username -> password (plain or bcrypt hash)
	groups map[string]models.Group
	log    *zap.Logger
}

// Load reads user.txt and group.txt from dataDir. A missing or empty user
// file is fatal; malformed lines are skipped with a warning.
func Load(dataDir string, log *zap.Logger) (*Directory, error) {
	d := &Directory{
		users:  make(map[string]string),
		groups: make(map[string]models.Group),
		log:    log,
	}

	if err := d.loadUsers(filepath.Join(dataDir, "user.txt")); err != nil {
		return nil, err
	}
	if err := d.loadGroups(filepath.Join(dataDir, "group.txt")); err != nil {
		return nil, err
	}
	if len(d.users) == 0 {
		return nil, fmt.Errorf("no valid users in %s", filepath.Join(dataDir, "user.txt"))
	}

	log.Info("directory loaded",
		zap.Int("users", len(d.users)),
		zap.Int("groups", len(d.groups)))
	return d, nil
}

func (d *Directory) loadUsers(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open user file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		username, password, ok := strings.Cut(line, ":")
		if !ok || username == "" || password == "" || len(username) > MaxUsernameLen {
			d.log.Warn("skipping malformed user entry", zap.String("line", line))
			continue
		}
		d.users[username] = password
	}
	return scanner.Err()
}

func (d *Directory) loadGroups(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open group file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
			d.log.Warn("skipping malformed group entry", zap.String("line", line))
			continue
		}

		var members []string
		seen := make(map[string]bool)
		for _, m := range strings.Split(parts[2], ",") {
			m = strings.TrimSpace(m)
			if m == "" || seen[m] {
				continue
			}
			seen[m] = true
			members = append(members, m)
		}

		d.groups[parts[0]] = models.Group{ID: parts[0], Name: parts[1], Members: members}
	}
	return scanner.Err()
}

// Authenticate reports whether the credentials match a loaded user. Entries
// whose stored password is a bcrypt hash are verified against the hash,
// plain entries are compared verbatim.
func (d *Directory) Authenticate(username, password string) bool {
	stored, ok := d.users[username]
	if !ok {
		return false
	}
	if isBcryptHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}
	return stored == password
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") ||
		strings.HasPrefix(s, "$2b$") ||
		strings.HasPrefix(s, "$2y$")
}

func (d *Directory) UserExists(username string) bool {
	_, ok := d.users[username]
	return ok
}

func (d *Directory) Group(id string) (models.Group, bool) {
	g, ok := d.groups[id]
	return g, ok
}

// IsMember reports whether username belongs to the group. Unknown groups
// have no members.
func (d *Directory) IsMember(groupID, username string) bool {
	g, ok := d.groups[groupID]
	if !ok {
		return false
	}
	for _, m := range g.Members {
		if m == username {
			return true
		}
	}
	return false
}

// Usernames returns every loaded username, sorted.
func (d *Directory) Usernames() []string {
	names := make([]string, 0, len(d.users))
	for name := range d.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Groups returns every loaded group, sorted by id.
func (d *Directory) Groups() []models.Group {
	groups := make([]models.Group, 0, len(d.groups))
	for _, g := range d.groups {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups
}
