package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/openkernels/kjit/target"
)

// targetFile is the TOML shape of a target description. Every field is
// optional; unset fields take the resolver's defaults.
type targetFile struct {
	Format       string `toml:"format"`
	Version      string `toml:"version"`
	Class        string `toml:"class"`
	Arch         string `toml:"arch"`
	PointerWidth int    `toml:"pointer_width"`
	Stepping     string `toml:"stepping"`
}

// loadTarget resolves a target from a TOML file, or the default target when
// path is empty.
func loadTarget(path string) (target.Resolved, error) {
	if path == "" {
		return target.Default(), nil
	}

	var tf targetFile
	if _, err := toml.DecodeFile(path, &tf); err != nil {
		return target.Resolved{}, errors.Wrapf(err, "read target file %s", path)
	}
	p, err := tf.partial()
	if err != nil {
		return target.Resolved{}, errors.Wrapf(err, "target file %s", path)
	}
	return target.Resolve(p)
}

func (tf targetFile) partial() (target.Partial, error) {
	var p target.Partial

	switch tf.Format {
	case "", "pib":
		if tf.Format != "" {
			p.Format = target.FormatPIB
		}
	default:
		return p, fmt.Errorf("unknown format %q", tf.Format)
	}

	if tf.Version != "" {
		var v target.Version
		if _, err := fmt.Sscanf(tf.Version, "%d.%d", &v.Major, &v.Minor); err != nil {
			return p, fmt.Errorf("malformed version %q", tf.Version)
		}
		p.Version = &v
	}

	switch strings.ToLower(tf.Class) {
	case "", "any":
	case "cpu":
		p.Class = target.ClassCPU
	case "gpu":
		p.Class = target.ClassGPU
	case "fpga":
		p.Class = target.ClassFPGA
	default:
		return p, fmt.Errorf("unknown device class %q", tf.Class)
	}

	if tf.Arch != "" && tf.Arch != "any" {
		arch, ok := archByName(p.Class, tf.Arch)
		if !ok {
			return p, fmt.Errorf("unknown architecture %q for class %s", tf.Arch, p.Class)
		}
		p.Arch = arch
	}

	p.PointerWidth = target.Width(tf.PointerWidth)
	p.Stepping = tf.Stepping
	return p, nil
}

func archByName(c target.Class, name string) (target.Arch, bool) {
	for _, id := range target.Arches(c) {
		if target.ArchName(c, id) == name {
			return id, true
		}
	}
	return 0, false
}
