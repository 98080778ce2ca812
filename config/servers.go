package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"dsuauth/internal/service"

	"github.com/go-playground/validator/v10"
)

type GuildConfig struct {
	StudentRole          string `json:"student_role" validate:"omitempty,numeric"`
	StudentRoleRemove    string `json:"student_role_remove" validate:"omitempty,numeric"`
	InstructorRole       string `json:"instructor_role" validate:"omitempty,numeric"`
	InstructorRoleRemove string `json:"instructor_role_remove" validate:"omitempty,numeric"`
	VerifyChannel        string `json:"verify_channel" validate:"omitempty,numeric"`
	LogChannel           string `json:"log_channel" validate:"omitempty,numeric"`
}

type serversFile struct {
	Servers map[string]GuildConfig `json:"servers" validate:"required,dive"`
}

// Servers is the per-deployment role mapping, loaded from a JSON file and
// reloadable at runtime. It implements service.RoleConfig.
type Servers struct {
	path     string
	validate *validator.Validate

	mu     sync.RWMutex
	guilds map[string]GuildConfig
}

func LoadServers(path string, validate *validator.Validate) (*Servers, error) {
	s := &Servers{path: path, validate: validate}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Servers) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read server config: %w", err)
	}
	var parsed serversFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse server config: %w", err)
	}
	if s.validate != nil {
		if err := s.validate.Struct(parsed); err != nil {
			return fmt.Errorf("invalid server config: %w", err)
		}
	}

	s.mu.Lock()
	s.guilds = parsed.Servers
	s.mu.Unlock()
	return nil
}

func (s *Servers) GuildIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.guilds))
	for id := range s.guilds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Servers) Guild(guildID string) (service.GuildRoles, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	guild, ok := s.guilds[guildID]
	if !ok {
		return service.GuildRoles{}, false
	}
	return service.GuildRoles{
		StudentRole:          guild.StudentRole,
		StudentRoleRemove:    guild.StudentRoleRemove,
		InstructorRole:       guild.InstructorRole,
		InstructorRoleRemove: guild.InstructorRoleRemove,
		LogChannel:           guild.LogChannel,
	}, true
}

func (s *Servers) VerifyChannel(guildID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.guilds[guildID].VerifyChannel
}
