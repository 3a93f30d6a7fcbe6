//go:build unicorn

package cmd

import (
	"github.com/lunixbochs/elfload/go/cpu/unicorn"
	"github.com/lunixbochs/elfload/go/loader"
	"github.com/lunixbochs/elfload/go/models"
	"github.com/lunixbochs/elfload/go/models/cpu"
)

func init() {
	registerBackend("unicorn", "Unicorn emulator for the image's machine", func(hdr *loader.ElfHeader, conf *models.Config) (cpu.Memory, func(), error) {
		b, err := unicorn.BuilderFor(hdr.Machine)
		if err != nil {
			return nil, nil, err
		}
		m, err := b.New()
		if err != nil {
			return nil, nil, err
		}
		return m, func() { m.Close() }, nil
	})
}
