// Package announcer implements the peer-to-peer completion fabric: a UDP
// multicast sender used by baristas after each table write, and a receiver
// that fulfills matching local orders on any shop's broadcast.
package announcer

import (
	"context"
	"fmt"
	"net"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/denwong47/coffeeshop/go/message"
	"github.com/denwong47/coffeeshop/go/order"
)

// Announcer owns the shop's two multicast sockets. The sender is bound to an
// ephemeral port and safe for concurrent use by all baristas; the receiver
// is bound to the group port and exclusively owned by the Listen loop. Both
// carry SO_REUSEADDR so several shops can share one host.
type Announcer struct {
	task   string
	orders *order.Map
	group  *net.UDPAddr
	send   *net.UDPConn
	recv   *net.UDPConn
}

// New validates the group address, binds both sockets and joins the group on
// every multicast-capable interface.
func New(task string, orders *order.Map, host string, port uint16) (*Announcer, error) {
	var ip = net.ParseIP(host)
	if ip == nil || !ip.IsMulticast() {
		return nil, fmt.Errorf("%q is not a valid multicast address", host)
	}
	var group = &net.UDPAddr{IP: ip, Port: int(port)}

	var lc = net.ListenConfig{Control: reuseAddr}

	sendConn, err := lc.ListenPacket(context.Background(), "udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("binding multicast sender socket: %w", err)
	}

	recvConn, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		sendConn.Close()
		return nil, fmt.Errorf("binding multicast receiver socket on port %d: %w", port, err)
	}

	if err = joinGroupAllInterfaces(recvConn.(*net.UDPConn), group); err != nil {
		sendConn.Close()
		recvConn.Close()
		return nil, err
	}

	return &Announcer{
		task:   task,
		orders: orders,
		group:  group,
		send:   sendConn.(*net.UDPConn),
		recv:   recvConn.(*net.UDPConn),
	}, nil
}

func reuseAddr(network, address string, c syscall.RawConn) error {
	var sockErr error
	if err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return sockErr
}

func joinGroupAllInterfaces(conn *net.UDPConn, group *net.UDPAddr) error {
	var pc = ipv4.NewPacketConn(conn)

	ifaces, err := net.Interfaces()
	if err != nil {
		return fmt.Errorf("enumerating network interfaces: %w", err)
	}

	var joined int
	for i := range ifaces {
		var iface = ifaces[i]
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err = pc.JoinGroup(&iface, group); err != nil {
			log.WithFields(log.Fields{
				"iface": iface.Name,
				"group": group.IP,
				"err":   err,
			}).Warn("could not join multicast group on interface")
			continue
		}
		joined++
	}
	if joined == 0 {
		// Fall back to the system default interface.
		if err = pc.JoinGroup(nil, group); err != nil {
			return fmt.Errorf("joining multicast group %s: %w", group.IP, err)
		}
	}
	return nil
}

// Send broadcasts one frame to the group. No acknowledgement and no retry:
// a lost frame is recovered by the collection point's sweep. The sender
// receives its own frame back, which doubles as proof the send left the
// socket; write-once order fulfillment makes the echo harmless.
func (a *Announcer) Send(m message.MulticastMessage) error {
	var data, err = m.Marshal()
	if err != nil {
		return err
	}
	if _, err = a.send.WriteToUDP(data, a.group); err != nil {
		sentCounter.WithLabelValues(labelError).Inc()
		return fmt.Errorf("sending multicast message for ticket %s: %w", m.Ticket, err)
	}
	sentCounter.WithLabelValues(labelOK).Inc()
	return nil
}

// Listen receives frames until the context is cancelled.
func (a *Announcer) Listen(ctx context.Context) error {
	var done = make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			// Wake the blocked read below.
			a.recv.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	log.WithFields(log.Fields{
		"task":  a.task,
		"group": a.group.String(),
	}).Info("announcer listening for multicast messages")

	var buf = make([]byte, message.MaxDatagramSize)
	for {
		var n, src, err = a.recv.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.WithField("err", err).Warn("multicast read failed")
			continue
		}
		a.handleDatagram(buf[:n], src)
	}
}

// handleDatagram applies one received frame. It is idempotent: replaying a
// datagram has the same effect as receiving it once.
func (a *Announcer) handleDatagram(data []byte, src *net.UDPAddr) {
	var m, err = message.UnmarshalMulticast(data)
	if err != nil {
		receivedCounter.WithLabelValues(labelMalformed).Inc()
		log.WithFields(log.Fields{
			"src": src.String(),
			"len": len(data),
			"err": err,
		}).Warn("discarding malformed multicast message")
		return
	}

	if m.Task != a.task {
		// Another service sharing the group; not ours to act on.
		receivedCounter.WithLabelValues(labelForeign).Inc()
		return
	}
	if m.Kind != message.KindTicket || !m.Status.Finished() {
		receivedCounter.WithLabelValues(labelIgnored).Inc()
		log.WithFields(log.Fields{
			"ticket": m.Ticket,
			"kind":   m.Kind.String(),
			"status": m.Status.String(),
		}).Info("ignoring multicast message that is not a finished ticket")
		return
	}

	if a.orders.Fulfill(m.Ticket, m.Status == message.StatusComplete) {
		receivedCounter.WithLabelValues(labelFulfilled).Inc()
		log.WithFields(log.Fields{
			"ticket": m.Ticket,
			"status": m.Status.String(),
			"src":    src.String(),
		}).Info("fulfilled local order from multicast message")
	} else {
		// No local waiter for this ticket; another shop's client holds it.
		receivedCounter.WithLabelValues(labelUnmatched).Inc()
	}
}

// Close releases both sockets.
func (a *Announcer) Close() error {
	var sendErr = a.send.Close()
	if err := a.recv.Close(); err != nil {
		return err
	}
	return sendErr
}
