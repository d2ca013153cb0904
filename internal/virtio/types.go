package virtio

import "encoding/json"

// BlockKind is the disk controller the converted guest will use.
type BlockKind int

const (
	// BlockIDE is the emulated legacy fallback; every Windows guest
	// can boot from it without extra drivers.
	BlockIDE BlockKind = iota
	BlockVirtioBlk
	BlockVirtioSCSI
)

func (k BlockKind) String() string {
	switch k {
	case BlockVirtioBlk:
		return "virtio-blk"
	case BlockVirtioSCSI:
		return "virtio-scsi"
	default:
		return "ide"
	}
}

// NetKind is the network device the converted guest will use.
type NetKind int

const (
	// NetRTL8139 is the oldest emulated model, for guests that predate
	// e1000 support.
	NetRTL8139 NetKind = iota
	NetE1000
	NetVirtio
)

func (k NetKind) String() string {
	switch k {
	case NetVirtio:
		return "virtio"
	case NetE1000:
		return "e1000"
	default:
		return "rtl8139"
	}
}

// MachineKind is the machine/chipset type of the target hypervisor
// configuration.
type MachineKind int

const (
	MachineI440FX MachineKind = iota
	MachineQ35
)

func (k MachineKind) String() string {
	if k == MachineQ35 {
		return "q35"
	}
	return "i440fx"
}

// MarshalJSON renders the kind as its string form.
func (k BlockKind) MarshalJSON() ([]byte, error) { return json.Marshal(k.String()) }

// MarshalJSON renders the kind as its string form.
func (k NetKind) MarshalJSON() ([]byte, error) { return json.Marshal(k.String()) }

// MarshalJSON renders the kind as its string form.
func (k MachineKind) MarshalJSON() ([]byte, error) { return json.Marshal(k.String()) }

// GuestInfo identifies the guest being converted, as established by the
// earlier inspection phase.
type GuestInfo struct {
	// OSID is the capability database identifier, e.g. "win10".
	OSID string
	// Arch is the guest architecture, e.g. "x86_64" or "i386".
	Arch string
}

// Outcome describes what one injection installed. It is produced once
// per Inject call and is immutable afterwards.
type Outcome struct {
	Block BlockKind `json:"block"`
	Net   NetKind   `json:"net"`

	VirtioRNG     bool `json:"virtio_rng"`
	VirtioBalloon bool `json:"virtio_balloon"`
	ISAPVPanic    bool `json:"isa_pvpanic"`
	VirtioSocket  bool `json:"virtio_socket"`

	Machine MachineKind `json:"machine"`

	// Virtio10 is true only when the capability database confirmed
	// virtio 1.0 support for the guest and a virtio driver was actually
	// selected for block or net.
	Virtio10 bool `json:"virtio_1_0"`
}
