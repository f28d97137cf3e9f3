package credentials

import "strings"

type QueuePermissions struct {
	Read    bool
	Add     bool
	Update  bool
	Process bool
}

// String renders the permissions in canonical "raup" order.
func (p QueuePermissions) String() string {
	var b strings.Builder
	if p.Read {
		b.WriteByte('r')
	}
	if p.Add {
		b.WriteByte('a')
	}
	if p.Update {
		b.WriteByte('u')
	}
	if p.Process {
		b.WriteByte('p')
	}
	return b.String()
}

// TablePermissions maps Write onto the table "add" permission.
type TablePermissions struct {
	Read   bool
	Write  bool
	Update bool
	Delete bool
}

// String renders the permissions in canonical "raud" order.
func (p TablePermissions) String() string {
	var b strings.Builder
	if p.Read {
		b.WriteByte('r')
	}
	if p.Write {
		b.WriteByte('a')
	}
	if p.Update {
		b.WriteByte('u')
	}
	if p.Delete {
		b.WriteByte('d')
	}
	return b.String()
}

type BlobPermissions struct {
	Read   bool
	Add    bool
	Create bool
	Write  bool
	Delete bool
}

// String renders the permissions in canonical "racwd" order.
func (p BlobPermissions) String() string {
	var b strings.Builder
	if p.Read {
		b.WriteByte('r')
	}
	if p.Add {
		b.WriteByte('a')
	}
	if p.Create {
		b.WriteByte('c')
	}
	if p.Write {
		b.WriteByte('w')
	}
	if p.Delete {
		b.WriteByte('d')
	}
	return b.String()
}
