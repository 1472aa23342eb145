package moderation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Grant is what the roster knows about one moderator
type Grant struct {
	Actor       ModeratorUser `json:"actor"`
	Role        RoleName      `json:"role"`
	Permissions []Permission  `json:"permissions"`
}

// Admin reports whether the grant carries the admin role
func (g Grant) Admin() bool {
	return g.Role == RoleAdmin
}

// roster is an immutable snapshot of a validated Config, indexed by actor id.
// Reload swaps the whole snapshot so readers never see a half-applied config.
type roster struct {
	users  []ModeratorUser
	grants map[string]Grant
}

func newRoster(config Config) *roster {
	r := &roster{
		users:  slices.Clone(config.Users),
		grants: make(map[string]Grant, len(config.Users)),
	}
	for _, user := range config.Users {
		role, ok := config.Roles[user.Role]
		if !ok {
			continue
		}
		r.grants[user.ID] = Grant{
			Actor:       user,
			Role:        user.Role,
			Permissions: slices.Clone(role.Permissions),
		}
	}
	return r
}

// Service resolves actor ids to moderator grants. It implements Authorizer.
// Without a config every check is denied.
type Service struct {
	configPath string
	current    atomic.Pointer[roster]
}

var _ Authorizer = (*Service)(nil)

// NewService loads the roster from configPath. An empty path, or a path that
// does not exist yet, yields a disabled service.
func NewService(configPath string) (*Service, error) {
	s := &Service{configPath: configPath}
	s.current.Store(&roster{})

	if configPath == "" {
		log.Info().Msg("moderation: no config path provided, service disabled")
		return s, nil
	}
	if err := s.Reload(); err != nil {
		return nil, fmt.Errorf("failed to load moderation config: %w", err)
	}
	return s, nil
}

// NewServiceFromConfig builds a service from an in-memory config
func NewServiceFromConfig(config Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	s := &Service{}
	s.current.Store(newRoster(config))
	return s, nil
}

// Reload re-reads the config file and swaps in the new roster. On error the
// previous roster stays active.
func (s *Service) Reload() error {
	if s.configPath == "" {
		return nil
	}

	data, err := os.ReadFile(s.configPath)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("path", s.configPath).Msg("moderation: config file not found, service disabled")
		s.current.Store(&roster{})
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	s.current.Store(newRoster(config))
	log.Info().
		Int("roles", len(config.Roles)).
		Int("users", len(config.Users)).
		Str("path", s.configPath).
		Msg("moderation: config loaded")
	return nil
}

// IsEnabled returns true if at least one moderator is configured
func (s *Service) IsEnabled() bool {
	return len(s.current.Load().grants) > 0
}

// HasPermission returns true if actorID holds a role granting permission
func (s *Service) HasPermission(actorID string, permission Permission) bool {
	g, ok := s.current.Load().grants[actorID]
	return ok && slices.Contains(g.Permissions, permission)
}

// Lookup returns the grant of actorID. The result is a copy.
func (s *Service) Lookup(actorID string) (Grant, bool) {
	g, ok := s.current.Load().grants[actorID]
	if !ok {
		return Grant{}, false
	}
	g.Permissions = slices.Clone(g.Permissions)
	return g, true
}

// ListModerators returns all configured moderator users
func (s *Service) ListModerators() []ModeratorUser {
	return slices.Clone(s.current.Load().users)
}
