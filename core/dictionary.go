package core

import (
	"bytes"
	"sync"

	"rtclock/protocol"
	"rtclock/tinycompress"
)

// Constant is a firmware constant exposed to the host
type Constant struct {
	Name  string
	Value interface{} // string or integer
}

// Enumeration maps value names to their encoded index
type Enumeration struct {
	Name   string
	Values []string
}

// Dictionary is the JSON document the host downloads through identify. It
// lists every command and response with its id plus the firmware constants.
type Dictionary struct {
	mu            sync.RWMutex
	constants     map[string]*Constant
	enumerations  map[string]*Enumeration
	commandReg    *CommandRegistry
	version       string
	buildVersions string
	compress      bool
	cachedDict    []byte
}

var globalDictionary = NewDictionary(globalRegistry)

// NewDictionary creates a dictionary over a registry. Generated data is
// zlib framed unless SetCompression(false) is called.
func NewDictionary(cmdReg *CommandRegistry) *Dictionary {
	return &Dictionary{
		constants:     make(map[string]*Constant),
		enumerations:  make(map[string]*Enumeration),
		commandReg:    cmdReg,
		version:       protocol.Version,
		buildVersions: "go-tinygo",
		compress:      true,
	}
}

// RegisterConstant registers a constant in the global dictionary
func RegisterConstant(name string, value interface{}) {
	globalDictionary.AddConstant(name, value)
}

// RegisterEnumeration registers an enumeration in the global dictionary
func RegisterEnumeration(name string, values []string) {
	globalDictionary.AddEnumeration(name, values)
}

// AddConstant adds or replaces a constant and drops the cached document
func (d *Dictionary) AddConstant(name string, value interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constants[name] = &Constant{Name: name, Value: value}
	d.cachedDict = nil
}

// AddEnumeration adds an enumeration. Empty names leave a gap in the
// numbering.
func (d *Dictionary) AddEnumeration(name string, values []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	valuesCopy := make([]string, len(values))
	copy(valuesCopy, values)
	d.enumerations[name] = &Enumeration{Name: name, Values: valuesCopy}
	d.cachedDict = nil
}

// SetVersion sets the firmware version string
func (d *Dictionary) SetVersion(version string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.version = version
	d.cachedDict = nil
}

// SetBuildVersions sets the toolchain description
func (d *Dictionary) SetBuildVersions(versions string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buildVersions = versions
	d.cachedDict = nil
}

// SetCompression selects zlib framing of the generated document
func (d *Dictionary) SetCompression(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.compress = enabled
	d.cachedDict = nil
}

// BuildDictionary generates and caches the document. Call it once all
// commands are registered; later registrations need another call.
func (d *Dictionary) BuildDictionary() {
	// Registry lock first, never while holding d.mu
	commands := d.commandReg.All()

	d.mu.Lock()
	defer d.mu.Unlock()

	jsonData := d.buildJSONLocked(commands)
	DebugPrintln("[DICT] json " + itoa(len(jsonData)) + " bytes, " + itoa(len(commands)) + " entries")

	if !d.compress {
		d.cachedDict = jsonData
		return
	}

	var buf bytes.Buffer
	buf.Grow(tinycompress.StoredSize(len(jsonData)))
	w := tinycompress.NewWriter(&buf, len(jsonData))
	w.Write(jsonData)
	if err := w.Close(); err != nil {
		DebugPrintln("[DICT] compression failed: " + err.Error())
		d.cachedDict = jsonData
		return
	}
	d.cachedDict = buf.Bytes()
}

// Generate returns the document, building it on first use
func (d *Dictionary) Generate() []byte {
	d.mu.RLock()
	cached := d.cachedDict
	d.mu.RUnlock()
	if cached != nil {
		return cached
	}

	d.BuildDictionary()
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cachedDict
}

// buildJSONLocked renders the document. The caller holds d.mu.
func (d *Dictionary) buildJSONLocked(commands []*Command) []byte {
	result := make([]byte, 0, 1024)

	result = append(result, `{"version":`...)
	result = appendJSONString(result, d.version)
	result = append(result, `,"build_versions":`...)
	result = appendJSONString(result, d.buildVersions)

	result = append(result, `,"config":{`...)
	for i, name := range sortedKeys(d.constants) {
		if i > 0 {
			result = append(result, ',')
		}
		result = appendJSONString(result, name)
		result = append(result, ':')
		result = appendJSONString(result, valueToString(d.constants[name].Value))
	}

	// Registry order is id order
	result = append(result, `},"commands":{`...)
	result = appendCommands(result, commands, false)
	result = append(result, `},"responses":{`...)
	result = appendCommands(result, commands, true)
	result = append(result, '}')

	if len(d.enumerations) > 0 {
		result = append(result, `,"enumerations":{`...)
		for i, name := range sortedKeys(d.enumerations) {
			if i > 0 {
				result = append(result, ',')
			}
			result = appendJSONString(result, name)
			result = append(result, ":{"...)
			first := true
			for idx, value := range d.enumerations[name].Values {
				if value == "" {
					continue
				}
				if !first {
					result = append(result, ',')
				}
				result = appendJSONString(result, value)
				result = append(result, ':')
				result = append(result, itoa(idx)...)
				first = false
			}
			result = append(result, '}')
		}
		result = append(result, '}')
	}

	return append(result, '}')
}

func appendCommands(dst []byte, commands []*Command, responses bool) []byte {
	first := true
	for _, cmd := range commands {
		if cmd.IsResponse() != responses {
			continue
		}
		if !first {
			dst = append(dst, ',')
		}
		dst = appendJSONString(dst, cmd.Signature())
		dst = append(dst, ':')
		dst = append(dst, utoa(uint32(cmd.ID))...)
		first = false
	}
	return dst
}

// appendJSONString appends s as a quoted JSON string
func appendJSONString(dst []byte, s string) []byte {
	const hex = "0123456789abcdef"
	dst = append(dst, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			dst = append(dst, '\\', c)
		case c < 0x20:
			dst = append(dst, '\\', 'u', '0', '0', hex[c>>4], hex[c&0xF])
		default:
			dst = append(dst, c)
		}
	}
	return append(dst, '"')
}

// sortedKeys returns map keys in ascending order (insertion sort, maps here
// hold a handful of entries)
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

// GetChunk returns a copy of count bytes of the document starting at offset.
// Reads past the end return an empty slice, which tells the host it is done.
func (d *Dictionary) GetChunk(offset uint32, count uint8) []byte {
	data := d.Generate()
	if offset >= uint32(len(data)) {
		return []byte{}
	}

	end := offset + uint32(count)
	if end > uint32(len(data)) {
		end = uint32(len(data))
	}

	chunk := make([]byte, end-offset)
	copy(chunk, data[offset:end])
	return chunk
}

// GetGlobalDictionary returns the global dictionary instance
func GetGlobalDictionary() *Dictionary {
	return globalDictionary
}
