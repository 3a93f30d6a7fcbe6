package cmd

import (
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/lunixbochs/elfload/go/loader"
	"github.com/lunixbochs/elfload/go/models"
	"github.com/lunixbochs/elfload/go/models/cpu"
)

// backend creates the address space a load targets. close releases anything
// the address space holds beyond its mappings.
type backend struct {
	desc string
	new  func(hdr *loader.ElfHeader, conf *models.Config) (mem cpu.Memory, close func(), err error)
}

var backends = map[string]*backend{
	"sim": {
		desc: "simulated address space sized to the image",
		new: func(hdr *loader.ElfHeader, conf *models.Config) (cpu.Memory, func(), error) {
			return cpu.NewMem(uint(hdr.Bits()), conf.PageSize), func() {}, nil
		},
	},
}

func registerBackend(name, desc string, new func(*loader.ElfHeader, *models.Config) (cpu.Memory, func(), error)) {
	backends[name] = &backend{desc: desc, new: new}
}

func backendNames() string {
	var names []string
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func newBackend(name string, hdr *loader.ElfHeader, conf *models.Config) (cpu.Memory, func(), error) {
	b, ok := backends[name]
	if !ok {
		return nil, nil, errors.Errorf("unknown backend %q (have %s)", name, backendNames())
	}
	return b.new(hdr, conf)
}
