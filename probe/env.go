package probe

// Env is the execution context of one invocation: the task that was running
// on the CPU when the transition fired, and whatever view of kernel memory
// the host can offer.
type Env interface {
	// PidTgid returns the thread group id in the high 32 bits and the
	// thread id in the low 32 bits, as bpf_get_current_pid_tgid does.
	PidTgid() uint64

	// Comm writes the NUL-padded command name of the current task.
	Comm(dst *[CommLen]byte)

	// Memory may return nil when kernel objects cannot be read at all.
	Memory() KernelMemory
}

// KernelMemory follows pointers out of a struct sock. Each method takes the
// address of the object to read from and reports ok == false when the read
// faults. A zero address is never passed in.
type KernelMemory interface {
	// SockSocket reads sk->sk_socket.
	SockSocket(sk uint64) (socket uint64, ok bool)

	// SocketState reads socket->state.
	SocketState(socket uint64) (state uint8, ok bool)

	// SocketFile reads socket->file.
	SocketFile(socket uint64) (file uint64, ok bool)

	// FileInode reads file->f_inode.
	FileInode(file uint64) (inode uint64, ok bool)

	// Inode reads i_ino, i_uid and i_gid.
	Inode(inode uint64) (Inode, bool)
}

// Inode is the ownership of a socket's backing inode.
type Inode struct {
	Ino uint32
	UID uint32
	GID uint32
}

// sockOwner is what the probe reads through the socket pointer.
type sockOwner struct {
	state uint8
	ino   uint32
	uid   uint32
	gid   uint32
}

// kptr is a kernel address that may be missing. Following a missing kptr
// gives another missing kptr, so a null or faulting link zeroes every field
// behind it without stopping the event.
type kptr uint64

func (p kptr) follow(read func(uint64) (uint64, bool)) kptr {
	if p == 0 {
		return 0
	}

	next, ok := read(uint64(p))
	if !ok {
		return 0
	}

	return kptr(next)
}

// readSockOwner reads sk->sk_socket->state and
// sk->sk_socket->file->f_inode->{i_ino,i_uid,i_gid}. The live state may
// already differ from the tracepoint's new state if the socket moved on
// again in the meantime; that is expected.
func readSockOwner(mem KernelMemory, sk uint64) (o sockOwner) {
	if mem == nil {
		return o
	}

	socket := kptr(sk).follow(mem.SockSocket)
	if socket != 0 {
		if state, ok := mem.SocketState(uint64(socket)); ok {
			o.state = state
		}
	}

	inode := socket.follow(mem.SocketFile).follow(mem.FileInode)
	if inode != 0 {
		if info, ok := mem.Inode(uint64(inode)); ok {
			o.ino, o.uid, o.gid = info.Ino, info.UID, info.GID
		}
	}

	return o
}
