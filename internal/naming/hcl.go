package naming

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// definitionsFile is the HCL shape of one definitions file. Network and
// service blocks may be mixed freely within a file.
type definitionsFile struct {
	Networks []networkBlock `hcl:"network,block"`
	Services []serviceBlock `hcl:"service,block"`
}

type networkBlock struct {
	Name    string   `hcl:"name,label"`
	Members []string `hcl:"members"`
	Except  []string `hcl:"except,optional"`
	Comment string   `hcl:"comment,optional"`
}

type serviceBlock struct {
	Name    string   `hcl:"name,label"`
	Members []string `hcl:"members"`
	Comment string   `hcl:"comment,optional"`
}

// ParseDefinitions decodes one definitions file into d. The filename is
// used for diagnostics only; callers own the I/O.
func (d *Definitions) ParseDefinitions(filename string, src []byte) error {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return fmt.Errorf("parsing %s: %s", filename, diags.Error())
	}
	var decoded definitionsFile
	if diags := gohcl.DecodeBody(file.Body, nil, &decoded); diags.HasErrors() {
		return fmt.Errorf("decoding %s: %s", filename, diags.Error())
	}
	for _, n := range decoded.Networks {
		def := NetworkDef{Name: n.Name, Members: n.Members, Except: n.Except, Comment: n.Comment}
		if err := d.AddNetwork(def, filename); err != nil {
			return err
		}
	}
	for _, s := range decoded.Services {
		def := ServiceDef{Name: s.Name, Members: s.Members, Comment: s.Comment}
		if err := d.AddService(def, filename); err != nil {
			return err
		}
	}
	return nil
}

// LoadDirectory builds a Definitions snapshot from every definitions
// file (*.def, *.net, *.svc) in dir. Files are read in name order so
// duplicate reporting is stable.
func LoadDirectory(dir string) (*Definitions, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading definitions directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".def", ".net", ".svc":
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no definition files in %s", dir)
	}
	sort.Strings(names)

	defs := NewDefinitions()
	for _, name := range names {
		path := filepath.Join(dir, name)
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if err := defs.ParseDefinitions(path, src); err != nil {
			return nil, err
		}
	}
	return defs, nil
}
