// acl-demo drives the ACL core against a simulated controller: it brings up
// the manager, walks a Classic and an LE connection through their
// lifecycles, pushes a little data both ways and prints a state dump.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/bthost/acl"
	"github.com/bthost/acl/aclmgr"
	"github.com/bthost/acl/classic"
	"github.com/bthost/acl/handler"
	"github.com/bthost/acl/hci"
	"github.com/bthost/acl/hci/hcitest"
	"github.com/bthost/acl/le"
	"github.com/bthost/acl/privacy"
)

func main() {
	app := cli.NewApp()
	app.Name = "acl-demo"
	app.Usage = "exercise the ACL connection core against a simulated controller"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "peer",
			Value: "11:22:33:44:55:66",
			Usage: "peer device address",
		},
		cli.StringFlag{
			Name:  "le-peer",
			Value: "aa:bb:cc:dd:ee:ff",
			Usage: "LE peer device address (random)",
		},
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: "debug logging",
		},
		cli.BoolFlag{
			Name:  "extended",
			Usage: "simulate a controller with extended create connection",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type client struct {
	log acl.Logger
}

func (c *client) OnConnectSuccess(conn *classic.Connection) {
	c.log.Infof("classic link up: %v", conn)
	conn.Write(acl.PDU{0x04, 0x00, 0x40, 0x00, 0x01, 0x02, 0x03, 0x04})
}

func (c *client) OnConnectFail(addr acl.Addr, reason acl.ErrCommand, local bool) {
	c.log.Errorf("classic connect to %v failed: %v (local=%v)", addr, reason, local)
}

func (c *client) OnLEConnectSuccess(conn *le.Connection) {
	c.log.Infof("le link up: %v interval=%d latency=%d timeout=%d",
		conn, conn.Interval, conn.Latency, conn.SupervisionTimeout)
	conn.Write(acl.PDU{0x02, 0x00, 0x04, 0x00, 0xca, 0xfe})
}

func (c *client) OnLEConnectFail(addr acl.Addr, reason acl.ErrCommand) {
	c.log.Errorf("le connect to %v failed: %v", addr, reason)
}

func run(c *cli.Context) error {
	lvl := logrus.InfoLevel
	if c.Bool("verbose") {
		lvl = logrus.DebugLevel
	}
	l := logrus.New()
	l.SetLevel(lvl)
	acl.SetLogger(acl.NewLogrusLogger(l))
	log := acl.GetLogger()

	peer, err := acl.NewAddr(c.String("peer"), acl.AddrTypePublic)
	if err != nil {
		return err
	}
	lePeer, err := acl.NewAddr(c.String("le-peer"), acl.AddrTypeRandom)
	if err != nil {
		return err
	}

	bus := hcitest.NewBus()
	bus.AutoResult = func(hci.Command) hci.CommandResult {
		return hci.CommandResult{Status: 0x00, Return: []byte{0x00}}
	}
	caps := hcitest.DefaultCapabilities()
	caps.ExtendedCreateConnection = c.Bool("extended")

	mgr := aclmgr.New(bus, caps)
	defer mgr.Stop()

	mgr.SetPrivacyPolicy(privacy.UseResolvable, acl.Addr{}, nil)

	cl := &client{log: log}
	h := handler.New("demo")
	defer h.Stop()
	mgr.RegisterCallbacks(cl, h)
	mgr.RegisterLECallbacks(cl, h)

	// classic: client connect, simulated controller accepts
	mgr.CreateConnection(peer)
	settle()
	bus.InjectEvent(hci.ConnectionCompleteCode, connectionComplete(0x00, 0x0040, peer))
	settle()

	// le: direct connect resolved by the simulated peer
	mgr.CreateLEConnection(lePeer, true, true)
	settle()
	bus.InjectLEEvent(hci.LEConnectionCompleteSubCode, leConnectionComplete(0x00, 0x0041, lePeer))
	settle()

	// inbound traffic for both links
	bus.InjectACL(hci.NewPacket(0x0040, hci.PbfFirstFlushable, []byte{0x02, 0x00, 0x40, 0x00, 0xbe, 0xef}))
	bus.InjectACL(hci.NewPacket(0x0041, hci.PbfFirstFlushable, []byte{0x01, 0x00, 0x04, 0x00, 0x99}))
	settle()

	dump, err := mgr.Dump()
	if err != nil {
		return err
	}
	fmt.Println(string(dump))

	log.Infof("outbound packets written: %d", len(bus.Writes()))

	// teardown
	bus.InjectEvent(hci.DisconnectionCompleteCode, disconnectionComplete(0x0040, acl.ErrRemoteUser))
	bus.InjectEvent(hci.DisconnectionCompleteCode, disconnectionComplete(0x0041, acl.ErrRemoteUser))
	settle()
	return nil
}

// settle lets the component handlers drain between injected stimuli.
func settle() { time.Sleep(50 * time.Millisecond) }

func connectionComplete(status byte, handle uint16, addr acl.Addr) []byte {
	b := make([]byte, 11)
	b[0] = status
	b[1] = byte(handle)
	b[2] = byte(handle >> 8)
	wire := addr.Bytes()
	for i := 0; i < 6; i++ {
		b[3+i] = wire[5-i]
	}
	b[9] = 0x01 // ACL
	return b
}

func leConnectionComplete(status byte, handle uint16, addr acl.Addr) []byte {
	b := make([]byte, 19)
	b[0] = 0x01 // subevent
	b[1] = status
	b[2] = byte(handle)
	b[3] = byte(handle >> 8)
	b[4] = 0x00 // central
	b[5] = byte(addr.Type)
	wire := addr.Bytes()
	for i := 0; i < 6; i++ {
		b[6+i] = wire[5-i]
	}
	b[12], b[13] = 0x28, 0x00 // interval
	b[14], b[15] = 0x00, 0x00 // latency
	b[16], b[17] = 0xf4, 0x01 // timeout
	return b
}

func disconnectionComplete(handle uint16, reason acl.ErrCommand) []byte {
	return []byte{0x00, byte(handle), byte(handle >> 8), byte(reason)}
}
