// Package config defines the option structs recognised at the external
// interface boundary: account connection settings, render
// behaviour, and orchestrator knobs. Values are loaded from YAML,
// grounded on the teacher lineage's yaml-tagged config types.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TLSMode selects how the transport secures the connection.
type TLSMode string

const (
	TLSImplicit TLSMode = "implicit"
	TLSStartTLS TLSMode = "starttls"
	TLSNone     TLSMode = "none"
)

// Account holds the connection settings for one IMAP account. Secret is
// an already-resolved credential (password or OAuth2 bearer token);
// mailcore never resolves or stores secrets itself.
type Account struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	TLSMode        TLSMode       `yaml:"tls_mode"`
	SNI            string        `yaml:"sni,omitempty"`
	Username       string        `yaml:"username"`
	Secret         string        `yaml:"-"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
}

// DefaultAccount returns sane timeout defaults; Host/Port/Username/Secret
// must still be set by the caller.
func DefaultAccount() Account {
	return Account{
		Port:           993,
		TLSMode:        TLSImplicit,
		ConnectTimeout: 30 * time.Second,
		CommandTimeout: 2 * time.Minute,
		IdleTimeout:    30 * time.Second,
	}
}

// SNIHost returns the configured SNI host, defaulting to Host.
func (a Account) SNIHost() string {
	if a.SNI != "" {
		return a.SNI
	}
	return a.Host
}

// Render controls how the body selector/renderer behaves.
type Render struct {
	PreferHTML            bool `yaml:"prefer_html"`
	BlockRemote            bool `yaml:"block_remote"`
	MaxImageWidth          int  `yaml:"max_image_width"`
	SanitizeHTML           bool `yaml:"sanitize_html"`
	ShowInlineAttachments  bool `yaml:"show_inline_attachments"`
}

// DefaultRender returns the conservative default render policy.
func DefaultRender() Render {
	return Render{
		PreferHTML:           true,
		BlockRemote:          false,
		MaxImageWidth:        640,
		SanitizeHTML:         true,
		ShowInlineAttachments: true,
	}
}

// Orchestrator controls render-cache versioning.
type Orchestrator struct {
	GeneratorVersion int `yaml:"generator_version"`
}

// CurrentGeneratorVersion is bumped whenever the render contract
// (sanitisation rules, body selection policy, CID URL shape) changes.
const CurrentGeneratorVersion = 1

// DefaultOrchestrator returns the current generator version.
func DefaultOrchestrator() Orchestrator {
	return Orchestrator{GeneratorVersion: CurrentGeneratorVersion}
}

// Document is the top-level YAML document shape for a mailcore config
// file: one or more accounts plus the shared render/orchestrator policy.
type Document struct {
	Accounts     map[string]Account `yaml:"accounts"`
	Render       Render             `yaml:"render"`
	Orchestrator Orchestrator       `yaml:"orchestrator"`
}

// Load reads and parses a YAML config document from path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if doc.Orchestrator.GeneratorVersion == 0 {
		doc.Orchestrator.GeneratorVersion = CurrentGeneratorVersion
	}
	return &doc, nil
}
