package fslctx

import (
	"fmt"
	"os"

	"github.com/gobwas/glob"
	yaml "gopkg.in/yaml.v2"

	"github.com/rcowham/fossil-go/internal/blobstore"
	"github.com/rcowham/fossil-go/internal/errs"
	"github.com/rcowham/fossil-go/internal/manifestfile"
)

// Config holds the settings a Context loads once at startup: the
// ignore/crnl/binary glob lists, the default hash policy and manifest
// mode, and whether commits generate R-cards (off unless set).
type Config struct {
	IgnoreGlob string `yaml:"ignore_glob"`
	CRNLGlob   string `yaml:"crnl_glob"`
	BinaryGlob string `yaml:"binary_glob"`

	HashPolicy   string `yaml:"hash_policy"`
	ManifestMode string `yaml:"manifest_mode"`
	GenerateRCards bool `yaml:"generate_rcards"`

	IgnoreGlobs []glob.Glob
	CRNLGlobs   []glob.Glob
	BinaryGlobs []glob.Glob

	ParsedHashPolicy   blobstore.HashPolicy
	ParsedManifestMode manifestfile.Mode
}

// Unmarshal parses config bytes and compiles its glob lists, mirroring the
// teacher's Unmarshal-then-validate config loader shape.
func Unmarshal(content []byte) (*Config, error) {
	cfg := &Config{
		HashPolicy: "auto",
	}
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, errs.Wrap(errs.Syntax, err, "invalid configuration")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile loads and parses a config file from disk.
func LoadConfigFile(filename string) (*Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, errs.Wrap(errs.IO, err, "read config file %s", filename)
	}
	return Unmarshal(content)
}

func (c *Config) validate() error {
	var err error
	if c.IgnoreGlobs, err = compileGlobList(c.IgnoreGlob); err != nil {
		return errs.Wrap(errs.Syntax, err, "ignore_glob")
	}
	if c.CRNLGlobs, err = compileGlobList(c.CRNLGlob); err != nil {
		return errs.Wrap(errs.Syntax, err, "crnl_glob")
	}
	if c.BinaryGlobs, err = compileGlobList(c.BinaryGlob); err != nil {
		return errs.Wrap(errs.Syntax, err, "binary_glob")
	}

	switch c.HashPolicy {
	case "", "auto":
		c.ParsedHashPolicy = blobstore.PolicyAuto
	case "sha1":
		c.ParsedHashPolicy = blobstore.PolicySHA1Only
	case "sha1-promote":
		c.ParsedHashPolicy = blobstore.PolicyAcceptSHA1PromoteToSHA3
	case "sha3-preferred":
		c.ParsedHashPolicy = blobstore.PolicySHA3Preferred
	case "sha3":
		c.ParsedHashPolicy = blobstore.PolicySHA3Only
	case "shun-sha1":
		c.ParsedHashPolicy = blobstore.PolicyShunSHA1
	default:
		return errs.New(errs.Syntax, "unrecognized hash_policy %q", c.HashPolicy)
	}

	c.ParsedManifestMode = manifestfile.ParseMode(c.ManifestMode)
	return nil
}

// compileGlobList splits a comma-separated list of shell-glob patterns
// (Fossil's ignore-glob convention) and compiles each one.
func compileGlobList(s string) ([]glob.Glob, error) {
	if s == "" {
		return nil, nil
	}
	var out []glob.Glob
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			pat := s[start:i]
			start = i + 1
			if pat == "" {
				continue
			}
			g, err := glob.Compile(pat, '/')
			if err != nil {
				return nil, fmt.Errorf("failed to parse %q as a glob: %w", pat, err)
			}
			out = append(out, g)
		}
	}
	return out, nil
}

func matchesAnyGlob(globs []glob.Glob, path string) bool {
	for _, g := range globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// IsIgnored reports whether path matches the configured ignore-glob list.
func (c *Config) IsIgnored(path string) bool { return matchesAnyGlob(c.IgnoreGlobs, path) }

// IsCRNL reports whether path matches the configured crnl-glob list (files
// that get CR/LF normalization on checkout).
func (c *Config) IsCRNL(path string) bool { return matchesAnyGlob(c.CRNLGlobs, path) }

// IsBinary reports whether path matches the configured binary-glob list,
// overriding content sniffing.
func (c *Config) IsBinary(path string) bool { return matchesAnyGlob(c.BinaryGlobs, path) }
