package models

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

const (
	DEFAULT_PAGE_SIZE    = 0x1000
	DEFAULT_STACK_SIZE   = 8 * 1024 * 1024
	DEFAULT_STRING_SIZE  = 0x5000
	DEFAULT_POINTER_SIZE = 0x5000
	DEFAULT_STACK_ALIGN  = 16
)

// Config holds the loader's tunables. The zero value is not usable; start from
// DefaultConfig or LoadConfig.
type Config struct {
	// page size of simulated address spaces; real backends report their own
	PageSize uint64 `toml:"page_size"`

	StackSize uint64 `toml:"stack_size"`
	// fixed stack address, 0 lets the address space choose
	StackBase uint64 `toml:"stack_base"`
	// budget for argv/envp strings and auxv payloads at the top of the stack
	StringSize uint64 `toml:"string_size"`
	// budget for argc, argv, envp and auxv below the strings
	PointerSize uint64 `toml:"pointer_size"`
	StackAlign  uint64 `toml:"stack_align"`
	// map the stack executable until PT_GNU_STACK says otherwise
	ExecStack bool `toml:"exec_stack"`

	// load bias for ET_DYN images, 0 probes for free space
	ForceBase uint64 `toml:"force_base"`

	// restrict images to one width (32 or 64), 0 accepts both
	Bits int `toml:"bits"`
	// restrict images to one e_machine, 0 accepts any
	Machine uint16 `toml:"machine"`

	Verbose bool `toml:"verbose"`
}

func DefaultConfig() *Config {
	return &Config{
		PageSize:    DEFAULT_PAGE_SIZE,
		StackSize:   DEFAULT_STACK_SIZE,
		StringSize:  DEFAULT_STRING_SIZE,
		PointerSize: DEFAULT_POINTER_SIZE,
		StackAlign:  DEFAULT_STACK_ALIGN,
		ExecStack:   true,
	}
}

// LoadConfig reads a TOML file over the defaults.
func LoadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, errors.Wrapf(err, "failed to read config %s", path)
	}
	return c, c.Validate()
}

// DecodeConfig parses TOML text over the defaults.
func DecodeConfig(data string) (*Config, error) {
	c := DefaultConfig()
	if _, err := toml.Decode(data, c); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	return c, c.Validate()
}

func isPow2(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

func (c *Config) Validate() error {
	if !isPow2(c.PageSize) {
		return errors.Errorf("page_size %#x is not a power of two", c.PageSize)
	}
	if !isPow2(c.StackAlign) || c.StackAlign < 8 {
		return errors.Errorf("stack_align %d must be a power of two >= 8", c.StackAlign)
	}
	if c.StringSize == 0 || c.PointerSize == 0 {
		return errors.New("string_size and pointer_size must be non-zero")
	}
	if c.StackSize < c.StringSize+c.PointerSize {
		return errors.Errorf("stack_size %#x cannot hold string_size %#x + pointer_size %#x",
			c.StackSize, c.StringSize, c.PointerSize)
	}
	if c.StackBase%c.PageSize != 0 {
		return errors.Errorf("stack_base %#x is not page aligned", c.StackBase)
	}
	if c.ForceBase%c.PageSize != 0 {
		return errors.Errorf("force_base %#x is not page aligned", c.ForceBase)
	}
	switch c.Bits {
	case 0, 32, 64:
	default:
		return errors.Errorf("bits must be 0, 32 or 64, not %d", c.Bits)
	}
	return nil
}
