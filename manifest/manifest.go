// Package manifest handles classweave.toml configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/classweave/pkg/launch"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "classweave.toml"

// Manifest represents a classweave.toml configuration.
type Manifest struct {
	Launch  Launch  `toml:"launch"`
	Filter  Filter  `toml:"filter"`
	Boot    Boot    `toml:"boot"`
	Cache   Cache   `toml:"cache"`
	Journal Journal `toml:"journal"`

	// Dir is the directory containing the classweave.toml file (set at load time).
	Dir string `toml:"-"`
}

// Launch configures the host version gate.
type Launch struct {
	CommandLine string   `toml:"command-line"`
	Supported   []string `toml:"supported"`
	Assumed     string   `toml:"assumed"`
}

// Filter names the method whose returned collection is filtered and the
// marker that hides an element.
type Filter struct {
	Class      string `toml:"class"`
	Method     string `toml:"method"`
	Descriptor string `toml:"descriptor"`
	Marker     string `toml:"marker"`
}

// Boot configures the one-time initialization trigger.
type Boot struct {
	Primary        []string `toml:"primary"`
	FallbackPrefix string   `toml:"fallback-prefix"`
	Reserved       []string `toml:"reserved"`
	Location       string   `toml:"location"`
}

// Cache configures the persistent splice result cache.
type Cache struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Journal configures the event journal.
type Journal struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
	Buffer  int    `toml:"buffer"`
}

// Defaults used for keys the file leaves unset.
const (
	DefaultFilterClass      = "net.minecraftforge.fml.common.Loader"
	DefaultFilterMethod     = "getActiveModList"
	DefaultFilterDescriptor = "()Ljava/util/List;"
	DefaultMarker           = "#hidden"
	DefaultPrimaryTrigger   = "net.minecraftforge.fml.common.launcher.FMLTweaker"
	DefaultFallbackPrefix   = "net.minecraftforge.fml."
	DefaultCachePath        = ".classweave/cache.db"
	DefaultJournalPath      = ".classweave/journal.cbor"
	DefaultJournalBuffer    = 256
)

// Default returns the configuration used when no file is present.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if len(m.Launch.Supported) == 0 {
		m.Launch.Supported = []string{launch.DefaultVersion}
	}
	if m.Launch.Assumed == "" {
		m.Launch.Assumed = launch.DefaultVersion
	}
	if m.Filter.Class == "" {
		m.Filter.Class = DefaultFilterClass
		if m.Filter.Method == "" {
			m.Filter.Method = DefaultFilterMethod
			if m.Filter.Descriptor == "" {
				m.Filter.Descriptor = DefaultFilterDescriptor
			}
		}
	}
	if m.Filter.Marker == "" {
		m.Filter.Marker = DefaultMarker
	}
	if len(m.Boot.Primary) == 0 {
		m.Boot.Primary = []string{DefaultPrimaryTrigger}
		if m.Boot.FallbackPrefix == "" {
			m.Boot.FallbackPrefix = DefaultFallbackPrefix
		}
	}
	if m.Cache.Path == "" {
		m.Cache.Path = DefaultCachePath
	}
	if m.Journal.Path == "" {
		m.Journal.Path = DefaultJournalPath
	}
	if m.Journal.Buffer <= 0 {
		m.Journal.Buffer = DefaultJournalBuffer
	}
}

// Load parses a classweave.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes configuration text and applies defaults.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %s", undecoded[0])
	}
	if m.Filter.Method == "" && m.Filter.Class != "" {
		return nil, fmt.Errorf("filter.class %s set without filter.method", m.Filter.Class)
	}
	m.applyDefaults()
	return &m, nil
}

// FindAndLoad walks up from startDir to find a classweave.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Resolve returns p relative to the manifest directory, or p itself when
// it is absolute or the manifest was not loaded from a file.
func (m *Manifest) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || m.Dir == "" {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// CachePath returns the resolved cache database path.
func (m *Manifest) CachePath() string {
	return m.Resolve(m.Cache.Path)
}

// JournalPath returns the resolved journal path.
func (m *Manifest) JournalPath() string {
	return m.Resolve(m.Journal.Path)
}

// Policy returns the version policy of the [launch] section.
func (m *Manifest) Policy() launch.Policy {
	return launch.Policy{Supported: m.Launch.Supported, Assumed: m.Launch.Assumed}
}
