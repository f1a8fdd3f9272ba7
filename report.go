package js5

import (
	"fmt"
	"io"
)

// ArchiveReport summarizes the decode of one archive.
type ArchiveReport struct {
	Archive uint8
	Name    string

	// Groups is the number of groups listed in the reference table.
	Groups int

	// Decoded and Failed count groups by outcome.
	Decoded int
	Failed  int

	// Files is the number of files in decoded groups.
	Files int

	// CRCMismatches counts groups whose stored checksum differs from the table.
	CRCMismatches int

	// MissingKeys counts groups that needed an XTEA key none was found for.
	MissingKeys int64

	// Failures lists failing groups in ascending id order.
	Failures []*GroupError

	// Err is set when the reference table itself could not be decoded; no
	// group of the archive was attempted.
	Err error
}

// Report summarizes the decode of a store.
type Report struct {
	Archives []ArchiveReport
}

// Totals sums group outcomes across archives.
func (r *Report) Totals() (groups, decoded, failed int) {
	for _, a := range r.Archives {
		groups += a.Groups
		decoded += a.Decoded
		failed += a.Failed
	}
	return groups, decoded, failed
}

// MissingKeys returns the cumulative missing-key count.
func (r *Report) MissingKeys() int64 {
	var n int64
	for _, a := range r.Archives {
		n += a.MissingKeys
	}
	return n
}

// Unreadable returns the archives whose reference table failed to decode.
func (r *Report) Unreadable() []uint8 {
	var ids []uint8
	for _, a := range r.Archives {
		if a.Err != nil {
			ids = append(ids, a.Archive)
		}
	}
	return ids
}

// WriteTo prints one line per archive and a total line.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	var total int64
	emit := func(format string, args ...any) error {
		n, err := fmt.Fprintf(w, format, args...)
		total += int64(n)
		return err
	}
	for _, a := range r.Archives {
		name := a.Name
		if name == "" {
			name = "-"
		}
		var err error
		if a.Err != nil {
			err = emit("archive %3d %-16s unreadable: %v\n", a.Archive, name, a.Err)
		} else {
			err = emit("archive %3d %-16s %d groups found, %d decoded, %d failed, %d files, %d crc mismatches\n",
				a.Archive, name, a.Groups, a.Decoded, a.Failed, a.Files, a.CRCMismatches)
		}
		if err != nil {
			return total, err
		}
	}
	groups, decoded, failed := r.Totals()
	err := emit("total: %d archives, %d groups found, %d decoded, %d failed, %d missing keys\n",
		len(r.Archives), groups, decoded, failed, r.MissingKeys())
	return total, err
}
