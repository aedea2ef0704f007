package gateway

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"

	"github.com/swarmit/swarmitctl/internal/bufpool"
	"github.com/swarmit/swarmitctl/internal/errs"
	"github.com/swarmit/swarmitctl/internal/logger"
	"github.com/swarmit/swarmitctl/internal/protocol"
)

// EdgeConfig configures a serial-attached gateway.
type EdgeConfig struct {
	Port     string
	Baudrate int
	Verbose  bool
}

// EdgeAdapter carries protocol frames over a directly attached serial radio
// gateway, length-prefixing each outer frame so independent messages can be
// recovered from the underlying byte stream.
type EdgeAdapter struct {
	cfg  EdgeConfig
	port serial.Port

	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEdgeAdapter creates an adapter bound to cfg; the serial port is opened
// by Init.
func NewEdgeAdapter(cfg EdgeConfig) *EdgeAdapter {
	return &EdgeAdapter{cfg: cfg}
}

// Init opens the serial port and starts the read loop that decodes inbound
// frames and delivers them to onFrame.
func (a *EdgeAdapter) Init(onFrame FrameCallback) error {
	mode := &serial.Mode{BaudRate: a.cfg.Baudrate}
	port, err := serial.Open(a.cfg.Port, mode)
	if err != nil {
		return errs.NewTransportUnavailable("serial.open:"+a.cfg.Port, err)
	}
	a.port = port
	a.ctx, a.cancel = context.WithCancel(context.Background())

	log := logger.WithAdapter(logger.Logger(), "edge")
	a.wg.Add(1)
	go a.readLoop(onFrame, log)
	return nil
}

// readLoop reads length-prefixed outer frames from the serial port and
// dispatches decoded payloads to onFrame, one at a time. Malformed frames
// are dropped silently except for a verbose log (§4.2).
func (a *EdgeAdapter) readLoop(onFrame FrameCallback, log interface {
	Debug(string, ...any)
	Warn(string, ...any)
}) {
	defer a.wg.Done()

	lenBuf := make([]byte, 2)
	for {
		select {
		case <-a.ctx.Done():
			return
		default:
		}

		if _, err := io.ReadFull(a.port, lenBuf); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			if a.cfg.Verbose {
				log.Debug("edge read loop closed", "error", err)
			}
			return
		}
		n := int(binary.LittleEndian.Uint16(lenBuf))
		if n == 0 {
			continue
		}
		buf := bufpool.Get(n)
		if _, err := io.ReadFull(a.port, buf); err != nil {
			bufpool.Put(buf)
			if a.cfg.Verbose {
				log.Debug("edge frame read error", "error", err)
			}
			return
		}

		addr, inner, err := decodeOuter(buf)
		if err != nil {
			if a.cfg.Verbose {
				log.Warn("edge dropped malformed outer frame", "error", err)
			}
			bufpool.Put(buf)
			continue
		}
		payload, err := protocol.Decode(inner)
		bufpool.Put(buf)
		if err != nil {
			if a.cfg.Verbose {
				log.Warn("edge dropped malformed payload", "error", err, "source", addr.String())
			}
			continue
		}
		onFrame(addr, payload)
	}
}

// Send transmits payload to destination over the serial port.
func (a *EdgeAdapter) Send(destination protocol.NodeAddress, payload protocol.Payload) error {
	if a.port == nil {
		return errs.NewTransportUnavailable("serial.send", fmt.Errorf("adapter not initialized"))
	}
	outer := encodeOuter(destination, protocol.Encode(payload))
	lenBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(lenBuf, uint16(len(outer)))

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if _, err := a.port.Write(lenBuf); err != nil {
		return errs.NewTransportUnavailable("serial.write.len", err)
	}
	if _, err := a.port.Write(outer); err != nil {
		return errs.NewTransportUnavailable("serial.write.frame", err)
	}
	return nil
}

// Close stops the read loop and releases the serial port.
func (a *EdgeAdapter) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	var err error
	if a.port != nil {
		err = a.port.Close()
	}
	a.wg.Wait()
	return err
}
