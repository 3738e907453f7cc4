//go:build linux

package process

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// NETLINK_CONNECTOR process-event constants (linux/connector.h,
// linux/cn_proc.h). Not exposed by golang.org/x/sys/unix, so declared
// here from the stable kernel UAPI headers.
const (
	cnIdxProc        = 0x1
	cnValProc        = 0x1
	procCNMcastListen = 1

	procEventFork = 0x00000001
	procEventExec = 0x00000002
)

// NetlinkSource subscribes to the kernel's process-connector multicast
// group — a genuine, read-only userspace subscription to an existing
// kernel notification facility (distinct from the kernel-mode
// interception the spec's NON-GOALS forbid). It requires CAP_NET_ADMIN;
// when the socket cannot be opened, Run relies on its polling loop alone,
// which analyzes every live PID each scan_interval (spec §4.5,
// SPEC_FULL.md §C.5).
type NetlinkSource struct {
	fd int
}

// OpenNetlinkSource opens and subscribes the connector socket. Returns an
// error (never fatal to the caller) if the socket cannot be created,
// bound, or subscribed — most commonly due to missing CAP_NET_ADMIN.
func OpenNetlinkSource() (*NetlinkSource, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM, unix.NETLINK_CONNECTOR)
	if err != nil {
		return nil, fmt.Errorf("netlink socket: %w", err)
	}

	addr := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Pid: uint32(os.Getpid()), Groups: cnIdxProc}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd) //nolint:errcheck
		return nil, fmt.Errorf("netlink bind: %w", err)
	}

	if err := sendSubscribe(fd, true); err != nil {
		unix.Close(fd) //nolint:errcheck
		return nil, fmt.Errorf("netlink subscribe: %w", err)
	}

	return &NetlinkSource{fd: fd}, nil
}

// Close unsubscribes and releases the socket.
func (s *NetlinkSource) Close() error {
	_ = sendSubscribe(s.fd, false)
	return unix.Close(s.fd)
}

// sendSubscribe sends the PROC_CN_MCAST_(LISTEN|IGNORE) control message:
// nlmsghdr(16) + cn_msg header(20) + uint32 op(4) = 40 bytes total.
func sendSubscribe(fd int, listen bool) error {
	const totalLen = 16 + 20 + 4
	buf := make([]byte, totalLen)
	le := binary.LittleEndian

	le.PutUint32(buf[0:4], totalLen)          // nlmsghdr.len
	le.PutUint16(buf[4:6], unix.NLMSG_DONE)   // nlmsghdr.type
	le.PutUint16(buf[6:8], 0)                 // nlmsghdr.flags
	le.PutUint32(buf[8:12], 0)                // nlmsghdr.seq
	le.PutUint32(buf[12:16], uint32(os.Getpid())) // nlmsghdr.pid

	le.PutUint32(buf[16:20], cnIdxProc) // cn_msg.id.idx
	le.PutUint32(buf[20:24], cnValProc) // cn_msg.id.val
	le.PutUint32(buf[24:28], 0)         // cn_msg.seq
	le.PutUint32(buf[28:32], 0)         // cn_msg.ack
	le.PutUint16(buf[32:34], 4)         // cn_msg.len (payload length)
	le.PutUint16(buf[34:36], 0)         // cn_msg.flags

	op := uint32(0)
	if listen {
		op = procCNMcastListen
	}
	le.PutUint32(buf[36:40], op)

	sa := &unix.SockaddrNetlink{Family: unix.AF_NETLINK}
	return unix.Sendto(fd, buf, 0, sa)
}

// Events returns a channel of newly-exec'd PIDs. The goroutine exits and
// closes the channel when the socket is closed or a read error occurs.
func (s *NetlinkSource) Events() <-chan int {
	out := make(chan int, 256)
	go func() {
		defer close(out)
		buf := make([]byte, 4096)
		for {
			n, _, err := unix.Recvfrom(s.fd, buf, 0)
			if err != nil {
				return
			}
			if pid, what, ok := parseProcEvent(buf[:n]); ok && what == procEventExec {
				select {
				case out <- pid:
				default:
				}
			}
		}
	}()
	return out
}

// parseProcEvent decodes nlmsghdr + cn_msg + proc_event and returns the
// subject PID for FORK/EXEC events. Any other payload shape returns
// ok=false — malformed or uninteresting messages are simply ignored,
// matching the "best-effort observation" posture of the rest of the
// probe layer.
func parseProcEvent(buf []byte) (pid int, what uint32, ok bool) {
	if len(buf) < 16+20+4+8 {
		return 0, 0, false
	}
	le := binary.LittleEndian
	cnMsg := buf[16:]
	payloadLen := le.Uint16(cnMsg[16:18])
	if int(payloadLen) < 16 {
		return 0, 0, false
	}
	payload := cnMsg[20:]
	if len(payload) < 16 {
		return 0, 0, false
	}

	what = le.Uint32(payload[0:4])
	// payload[4:8] = cpu, payload[8:16] = timestamp_ns
	body := payload[16:]

	switch what {
	case procEventExec:
		if len(body) < 8 {
			return 0, 0, false
		}
		return int(int32(le.Uint32(body[0:4]))), what, true // process_pid
	case procEventFork:
		if len(body) < 16 {
			return 0, 0, false
		}
		return int(int32(le.Uint32(body[8:12]))), what, true // child_pid
	default:
		return 0, what, false
	}
}
