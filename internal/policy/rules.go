package policy

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// defaultAllowed is the built-in closed-world allowlist. It covers the
// read-only shell toolbox, common developer tooling, and the dangerous
// commands below (which still require confirmation to run).
var defaultAllowed = []string{
	// File inspection
	"cat", "head", "tail", "ls", "pwd", "file", "stat", "wc", "du", "df",
	"find", "grep", "egrep", "fgrep", "diff", "cmp", "readlink", "realpath",
	"basename", "dirname", "tree",
	// Text processing
	"echo", "printf", "sed", "awk", "sort", "uniq", "cut", "tr", "jq",
	"base64", "md5sum", "sha1sum", "sha256sum", "xxd",
	// Environment and process inspection
	"env", "printenv", "date", "uname", "whoami", "id", "hostname",
	"uptime", "ps", "free", "which", "sleep", "true", "false", "test",
	// Archives
	"tar", "gzip", "gunzip", "zip", "unzip", "xz", "bzip2",
	// Filesystem creation
	"mkdir", "touch",
	// Network fetch
	"curl", "wget",
	// Developer tooling
	"git", "make", "node", "npm", "yarn", "pnpm", "python", "python3",
	"pip", "pip3", "go", "cargo", "rustc", "ruby",
	// Dangerous tier members; execution still requires confirmation
	"rm", "rmdir", "mv", "cp", "ln", "truncate", "shred", "chmod", "chown",
}

// defaultDangerous marks commands that delete, move, or overwrite data.
// They are allowlisted but each dispatch must carry an explicit safety
// confirmation.
var defaultDangerous = []string{
	"rm", "rmdir", "mv", "cp", "ln", "truncate", "shred", "chmod", "chown",
}

// defaultBlocked marks commands that are never executed: privilege
// escalation, system state changes, disk tooling, process killers, and raw
// network tools.
var defaultBlocked = []string{
	"sudo", "su", "doas", "passwd",
	"shutdown", "reboot", "poweroff", "halt", "init", "systemctl",
	"mkfs", "fdisk", "parted", "dd", "mount", "umount",
	"kill", "killall", "pkill",
	"nc", "ncat", "netcat", "telnet", "iptables",
}

// defaultBlockPatterns are line prefixes that are always rejected. They
// cover remote package execution, which downloads and runs arbitrary code
// in one step.
var defaultBlockPatterns = []string{
	"npx ", "bunx ", "pnpm dlx ", "yarn dlx ",
}

// Config is the on-disk policy shape. Lists that are absent from the file
// keep their built-in defaults; lists that are present replace them
// entirely.
type Config struct {
	Allow         []string `yaml:"allow"`
	Dangerous     []string `yaml:"dangerous"`
	Block         []string `yaml:"block"`
	BlockPatterns []string `yaml:"block_patterns"`
}

// New compiles a Policy from cfg, falling back to the built-in defaults
// for every list cfg leaves nil.
func New(cfg Config) *Policy {
	if cfg.Allow == nil {
		cfg.Allow = defaultAllowed
	}
	if cfg.Dangerous == nil {
		cfg.Dangerous = defaultDangerous
	}
	if cfg.Block == nil {
		cfg.Block = defaultBlocked
	}
	if cfg.BlockPatterns == nil {
		cfg.BlockPatterns = defaultBlockPatterns
	}

	p := &Policy{
		allowed:       make(map[string]bool, len(cfg.Allow)),
		dangerous:     make(map[string]bool, len(cfg.Dangerous)),
		blocked:       make(map[string]bool, len(cfg.Block)),
		blockPatterns: append([]string(nil), cfg.BlockPatterns...),
	}
	for _, c := range cfg.Allow {
		p.allowed[c] = true
	}
	for _, c := range cfg.Dangerous {
		p.dangerous[c] = true
	}
	for _, c := range cfg.Block {
		p.blocked[c] = true
	}
	return p
}

// Default returns a Policy built entirely from the built-in lists.
func Default() *Policy {
	return New(Config{})
}

// LoadFile reads a YAML policy file and compiles it. An empty path yields
// the default policy; a missing or malformed file is an error so a typo in
// the policy path cannot silently widen the allowlist.
func LoadFile(path string) (*Policy, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	return New(cfg), nil
}

// AllowedCommands returns the allowlist sorted for stable display.
func (p *Policy) AllowedCommands() []string {
	return sortedKeys(p.allowed)
}

// DangerousCommands returns the confirmation-required tier sorted.
func (p *Policy) DangerousCommands() []string {
	return sortedKeys(p.dangerous)
}

// BlockedCommands returns the blocked tier sorted.
func (p *Policy) BlockedCommands() []string {
	return sortedKeys(p.blocked)
}

// BlockPatterns returns the hard-blocked line prefixes.
func (p *Policy) BlockPatterns() []string {
	return append([]string(nil), p.blockPatterns...)
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
