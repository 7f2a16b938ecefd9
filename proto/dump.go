package proto

import (
	"encoding/xml"
	"fmt"
	"io"
)

const DumpVersion = "1"

// Dump is the on-disk form of a captured accessibility tree, replayed by
// offline devices.
type Dump struct {
	XMLName    xml.Name    `xml:"dump"`
	Version    string      `xml:"version,attr"`
	Device     string      `xml:"device,attr,omitempty"`
	Info       *SystemInfo `xml:"info,omitempty"`
	Accessible Accessible  `xml:"accessible"`
}

func WriteDump(w io.Writer, dump Dump) error {
	if dump.Version == "" {
		dump.Version = DumpVersion
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(dump); err != nil {
		return fmt.Errorf("encode dump: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func ReadDump(r io.Reader) (*Dump, error) {
	var dump Dump
	if err := xml.NewDecoder(r).Decode(&dump); err != nil {
		return nil, &CodecError{Reason: "malformed dump", Err: err}
	}
	if err := dump.Accessible.Validate(); err != nil {
		return nil, &CodecError{Reason: "invalid dump", Err: err}
	}
	return &dump, nil
}
