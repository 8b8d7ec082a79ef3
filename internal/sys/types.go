// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sys describes the host systems recorded in the upper byte of the
// "version made by" field and the file mode bits stored for them.
package sys

import "github.com/mrhack/zippkg/internal/layout"

// HostSystem represents the host system on which the ZIP file was created
type HostSystem uint8

// Supported host systems according to ZIP specification
const (
	HostSystemFAT       HostSystem = 0  // MS-DOS and OS/2 (FAT / VFAT / FAT32 file systems)
	HostSystemAmiga     HostSystem = 1  // Amiga
	HostSystemOpenVMS   HostSystem = 2  // OpenVMS
	HostSystemUNIX      HostSystem = 3  // UNIX
	HostSystemVMCMS     HostSystem = 4  // VM/CMS
	HostSystemAtariST   HostSystem = 5  // Atari ST
	HostSystemOS2HPFS   HostSystem = 6  // OS/2 H.P.F.S.
	HostSystemMacintosh HostSystem = 7  // Macintosh
	HostSystemZSystem   HostSystem = 8  // Z-System
	HostSystemCPM       HostSystem = 9  // CP/M
	HostSystemNTFS      HostSystem = 10 // Windows NTFS
	HostSystemMVS       HostSystem = 11 // MVS (OS/390 - Z/OS)
	HostSystemVSE       HostSystem = 12 // VSE
	HostSystemAcornRisc HostSystem = 13 // Acorn Risc
	HostSystemVFAT      HostSystem = 14 // VFAT
	HostSystemAltMVS    HostSystem = 15 // alternate MVS
	HostSystemBeOS      HostSystem = 16 // BeOS
	HostSystemTandem    HostSystem = 17 // Tandem
	HostSystemOS400     HostSystem = 18 // OS/400
	HostSystemDarwin    HostSystem = 19 // OS X (Darwin)
	// 20-255: unused
)

// HostSystems maps the host byte to its symbolic name and back.
// It is attached to the host_system field of the directory records.
var HostSystems = layout.NewEnum(map[string]uint64{
	"MS-DOS/OS2 (FAT)":    uint64(HostSystemFAT),
	"Amiga":               uint64(HostSystemAmiga),
	"OpenVMS":             uint64(HostSystemOpenVMS),
	"UNIX":                uint64(HostSystemUNIX),
	"VM/CMS":              uint64(HostSystemVMCMS),
	"Atari ST":            uint64(HostSystemAtariST),
	"OS/2 HPFS":           uint64(HostSystemOS2HPFS),
	"Macintosh":           uint64(HostSystemMacintosh),
	"Z-System":            uint64(HostSystemZSystem),
	"CP/M":                uint64(HostSystemCPM),
	"Windows NTFS":        uint64(HostSystemNTFS),
	"MVS (OS/390 - Z/OS)": uint64(HostSystemMVS),
	"VSE":                 uint64(HostSystemVSE),
	"Acorn Risc":          uint64(HostSystemAcornRisc),
	"VFAT":                uint64(HostSystemVFAT),
	"Alternate MVS":       uint64(HostSystemAltMVS),
	"BeOS":                uint64(HostSystemBeOS),
	"Tandem":              uint64(HostSystemTandem),
	"OS/400":              uint64(HostSystemOS400),
	"OS X (Darwin)":       uint64(HostSystemDarwin),
})

func (h HostSystem) String() string {
	if name, ok := HostSystems.Name(uint64(h)); ok {
		return name
	}
	return "Unknown"
}

// Unix constants for file types (standard POSIX)
const (
	S_IFREG = 0100000 // Regular file
	S_IFDIR = 0040000 // Directory
	S_IFLNK = 0120000 // Symlink
	S_IFMT  = 0170000 // Type mask
)

// MS-DOS attribute bits kept in the low byte of the external attributes.
const (
	DOSReadOnly  = 0x01
	DOSDirectory = 0x10
)
