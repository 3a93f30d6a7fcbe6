package native

import (
	"debug/elf"
	"runtime"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/lunixbochs/elfload/go/models"
)

var hostMachine = map[string]elf.Machine{
	"386":     elf.EM_386,
	"amd64":   elf.EM_X86_64,
	"arm":     elf.EM_ARM,
	"arm64":   elf.EM_AARCH64,
	"riscv64": elf.EM_RISCV,
	"ppc64le": elf.EM_PPC64,
}

// HostConfig returns a Config restricted to images the current process can run.
func HostConfig() *models.Config {
	c := models.DefaultConfig()
	c.PageSize = uint64(unix.Getpagesize())
	c.Bits = strconv.IntSize
	c.Machine = uint16(hostMachine[runtime.GOARCH])
	return c
}
