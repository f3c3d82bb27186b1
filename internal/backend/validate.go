package backend

import (
	"fmt"
	"strings"

	"github.com/kandev/agentmux/internal/backend/shellcmd"
)

// ValidateAgentID rejects IDs that cannot name a file in a scratch directory.
func ValidateAgentID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidAgentID, id)
	}
	return nil
}

// ValidateProcessConfig checks a spawn config carrying a command payload.
func ValidateProcessConfig(cfg SpawnConfig) error {
	if err := validateCommon(cfg); err != nil {
		return err
	}
	if cfg.Command == "" {
		return fmt.Errorf("%w: agent %s", ErrMissingCommand, cfg.AgentID)
	}
	return nil
}

// ValidateRuntimeConfig checks a spawn config carrying an in-process payload.
func ValidateRuntimeConfig(cfg SpawnConfig) error {
	if err := validateCommon(cfg); err != nil {
		return err
	}
	if cfg.Runtime == nil {
		return fmt.Errorf("%w: agent %s", ErrMissingRuntime, cfg.AgentID)
	}
	return nil
}

func validateCommon(cfg SpawnConfig) error {
	if err := ValidateAgentID(cfg.AgentID); err != nil {
		return err
	}
	for name := range cfg.Env {
		if !shellcmd.ValidEnvName(name) {
			return fmt.Errorf("%w: %q (agent %s)", ErrInvalidEnvName, name, cfg.AgentID)
		}
	}
	return nil
}
