// Package credentials reads and writes billing access profiles.
//
// Profiles live in an INI file, one section per profile:
//
//	[default]
//	account = 0x...
//	token   = ...
//
// FLEXPLAN_TOKEN and FLEXPLAN_ACCOUNT override the file.
package credentials

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"
)

const (
	keyAccount = "account"
	keyToken   = "token"

	envToken   = "FLEXPLAN_TOKEN"
	envAccount = "FLEXPLAN_ACCOUNT"
)

// Credentials identify the consumer to the billing service and the ledger
type Credentials struct {
	Profile string
	Account string
	Token   string
}

// IsComplete reports whether both the account and the token are known
func (c Credentials) IsComplete() bool {
	return c.Account != "" && c.Token != ""
}

// Load reads profile from path. A missing file or section is not an error;
// the environment may still supply the values.
func Load(path, profile string) (Credentials, error) {
	if profile == "" {
		profile = ini.DefaultSection
	}
	creds := Credentials{Profile: profile}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			cfg, err := ini.Load(path)
			if err != nil {
				return creds, fmt.Errorf("load credentials %s: %w", path, err)
			}
			if cfg.HasSection(profile) {
				section := cfg.Section(profile)
				creds.Account = section.Key(keyAccount).String()
				creds.Token = section.Key(keyToken).String()
			}
		}
	}

	if v := os.Getenv(envAccount); v != "" {
		creds.Account = v
	}
	if v := os.Getenv(envToken); v != "" {
		creds.Token = v
	}
	return creds, nil
}

// Save writes creds into its profile section, keeping other profiles
func Save(path string, creds Credentials) error {
	if creds.Profile == "" {
		creds.Profile = ini.DefaultSection
	}

	cfg := ini.Empty()
	if _, err := os.Stat(path); err == nil {
		loaded, err := ini.Load(path)
		if err != nil {
			return fmt.Errorf("load credentials %s: %w", path, err)
		}
		cfg = loaded
	}

	section := cfg.Section(creds.Profile)
	section.Key(keyAccount).SetValue(creds.Account)
	section.Key(keyToken).SetValue(creds.Token)

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	if err := cfg.SaveTo(path); err != nil {
		return err
	}
	return os.Chmod(path, 0600)
}

// Profiles lists the profile names in the file
func Profiles(path string) ([]string, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, s := range cfg.Sections() {
		if s.Name() == ini.DefaultSection && len(s.Keys()) == 0 {
			continue
		}
		names = append(names, s.Name())
	}
	return names, nil
}
