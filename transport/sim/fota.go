package sim

import (
	"bytes"
	"encoding/binary"

	"github.com/moffa90/go-blefota/protocol"
	"github.com/moffa90/go-blefota/secure"
	"github.com/moffa90/go-blefota/transport"
)

// handleControl processes a control command. Must be called with d.mu held.
func (d *Device) handleControl(value []byte) {
	cmd, err := protocol.ParseCommand(value)
	if err != nil {
		d.status = protocol.StatusError
		return
	}
	d.commands = append(d.commands, protocol.Command{Opcode: cmd.Opcode, Params: append([]byte(nil), cmd.Params...)})

	// WAIT_DATA only answers the polls that follow PAGE_END
	d.waitPolls = 0

	if d.xorKey == nil && d.Secure() && cmd.Opcode != protocol.CmdReboot {
		// secure devices accept nothing before the key exchange
		d.status = protocol.StatusError
		return
	}

	switch cmd.Opcode {
	case protocol.CmdStart:
		if d.cfg.FailStart {
			d.status = protocol.StatusError
			return
		}
		d.enabled = true
		d.status = protocol.StatusOK

	case protocol.CmdPageBegin:
		addr, err := protocol.ParsePageBeginCmd(value)
		if err != nil || !d.enabled {
			d.status = protocol.StatusError
			return
		}
		d.pageOpen = true
		d.pageAddr = addr
		d.pageBuf = d.pageBuf[:0]
		d.status = protocol.StatusOK

	case protocol.CmdPageEnd:
		d.pageEnds++
		d.status = d.finishPage(value)
		d.waitPolls = d.cfg.WaitPolls
		d.notify(protocol.ControlCharUUID, []byte{byte(d.status)})

	case protocol.CmdMetadata:
		d.status = d.commitMetadata(cmd.Params)

	case protocol.CmdReboot:
		d.rebooted = true
		d.enabled = false
		d.status = protocol.StatusDisabled

	default:
		d.status = protocol.StatusError
	}
}

func (d *Device) handleData(value []byte) {
	if !d.pageOpen {
		return
	}
	d.pageBuf = append(d.pageBuf, value...)
}

func (d *Device) handleKeyExchange(value []byte) {
	if d.sessionKey == nil || len(value) != protocol.PublicKeySize+protocol.SignatureSize {
		d.status = protocol.StatusError
		return
	}

	hostPub := value[:protocol.PublicKeySize]
	sig := value[protocol.PublicKeySize:]
	if d.cfg.RejectHandshake || !d.cfg.Suite.Verify(d.cfg.RootPublicKey, hostPub, sig) {
		d.status = protocol.StatusError
		return
	}

	key, err := secure.DeriveKey(d.cfg.Suite, d.sessionKey, hostPub)
	if err != nil {
		d.status = protocol.StatusError
		return
	}

	d.hostPub = append([]byte(nil), hostPub...)
	d.xorKey = key
	d.status = protocol.StatusOK
}

func (d *Device) finishPage(value []byte) protocol.Status {
	if !d.pageOpen {
		return protocol.StatusError
	}
	d.pageOpen = false

	end, err := protocol.ParsePageEndCmd(value)
	if err != nil {
		return protocol.StatusError
	}
	if d.pageEnds <= d.cfg.FailPageEnds {
		return protocol.StatusError
	}
	if int(end.Length) != len(d.pageBuf) || end.CRC != protocol.CRC16(d.pageBuf) {
		return protocol.StatusError
	}

	data := append([]byte(nil), d.pageBuf...)
	if d.xorKey != nil {
		data = secure.XORKeyStream(d.xorKey, data)
		if !d.cfg.Suite.Verify(d.hostPub, data, end.Signature) {
			return protocol.StatusError
		}
	} else if len(end.Signature) != 0 {
		return protocol.StatusError
	}

	d.flash[d.pageAddr] = data
	d.pages = append(d.pages, Page{Address: d.pageAddr, Data: data})
	return protocol.StatusOK
}

func (d *Device) commitMetadata(payload []byte) protocol.Status {
	if !d.enabled || d.cfg.FailMetadata {
		return protocol.StatusError
	}

	if d.xorKey == nil {
		d.metadata = append([]byte(nil), payload...)
		return protocol.StatusOK
	}

	// sig(64) || crc(2) || header(2) || ciphertext
	headerEnd := protocol.SignatureSize + 2 + protocol.MetadataHeaderSize
	if len(payload) < headerEnd {
		return protocol.StatusError
	}
	sig := payload[:protocol.SignatureSize]
	crc := binary.LittleEndian.Uint16(payload[protocol.SignatureSize:])
	header := payload[protocol.SignatureSize+2 : headerEnd]
	ct := payload[headerEnd:]

	if crc != protocol.CRC16(ct) {
		return protocol.StatusError
	}
	body := secure.XORKeyStream(d.xorKey, ct)
	if !d.cfg.Suite.Verify(d.hostPub, body, sig) {
		return protocol.StatusError
	}

	d.metadata = append(append([]byte(nil), header...), body...)
	return protocol.StatusOK
}

// pollStatus returns the status for a control read.
func (d *Device) pollStatus() protocol.Status {
	if d.waitPolls > 0 {
		d.waitPolls--
		return protocol.StatusWaitData
	}
	return d.status
}

func (d *Device) notify(char string, value []byte) {
	d.emit(func(ev transport.Events) { ev.OnCharacteristicChanged(char, value) })
}

// Commands returns the control commands received so far.
func (d *Device) Commands() []protocol.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]protocol.Command(nil), d.commands...)
}

// Opcodes returns the opcodes of the control commands received so far.
func (d *Device) Opcodes() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	ops := make([]byte, len(d.commands))
	for i, c := range d.commands {
		ops[i] = c.Opcode
	}
	return ops
}

// Pages returns every accepted page in arrival order.
func (d *Device) Pages() []Page {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Page(nil), d.pages...)
}

// Image reassembles size bytes of flash written from addr.
func (d *Device) Image(addr uint32, size int) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	var buf bytes.Buffer
	for buf.Len() < size {
		page, ok := d.flash[addr+uint32(buf.Len())]
		if !ok {
			break
		}
		buf.Write(page)
	}
	out := buf.Bytes()
	if len(out) > size {
		out = out[:size]
	}
	return out
}

// Metadata returns the committed metadata (decrypted on secure devices).
func (d *Device) Metadata() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.metadata...)
}

// Rebooted reports whether REBOOT was received.
func (d *Device) Rebooted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rebooted
}

// PageEnds returns the number of PAGE_END commands received.
func (d *Device) PageEnds() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pageEnds
}
