// Package trace records controller activity to a compact binary log:
// claims, completes, dispatches, gateway edges, and configuration
// writes, each stamped with hart, source, and wall-clock time. The
// format is append-only and cheap enough to leave on while chasing
// lost or duplicated interrupts.
package trace

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"
)

const (
	Magic   uint32 = 0x504c5452 // "PLTR"
	Version uint32 = 1
)

type header struct {
	Magic            uint32
	Version          uint32
	EventKindsLength uint32
}

// EventID names a registered event kind.
type EventID uint32

const InvalidEventID = EventID(0)

// EventFlags classify kinds for coarse filtering.
type EventFlags uint32

const (
	FlagService EventFlags = 1 << iota // claim/dispatch/complete cycle
	FlagGateway                        // source line edges
	FlagConfig                         // enable/priority/threshold writes
)

func (f EventFlags) String() string {
	flags := []string{}
	if f&FlagService != 0 {
		flags = append(flags, "service")
	}
	if f&FlagGateway != 0 {
		flags = append(flags, "gateway")
	}
	if f&FlagConfig != 0 {
		flags = append(flags, "config")
	}
	return strings.Join(flags, ",")
}

// KindInfo describes a registered event kind.
type KindInfo struct {
	Name  string
	Flags EventFlags
}

var kinds = make(map[EventID]KindInfo)

// not designed to be thread safe
func RegisterKind(name string, flags EventFlags) EventID {
	id := EventID(len(kinds) + 1)
	kinds[id] = KindInfo{
		Name:  name,
		Flags: flags,
	}
	return id
}

// The kinds the controller path emits.
var (
	KindClaim     = RegisterKind("claim", FlagService)
	KindDispatch  = RegisterKind("dispatch", FlagService)
	KindComplete  = RegisterKind("complete", FlagService)
	KindSpurious  = RegisterKind("spurious", FlagService)
	KindRaise     = RegisterKind("raise", FlagGateway)
	KindLower     = RegisterKind("lower", FlagGateway)
	KindPulse     = RegisterKind("pulse", FlagGateway)
	KindEnable    = RegisterKind("enable", FlagConfig)
	KindDisable   = RegisterKind("disable", FlagConfig)
	KindPriority  = RegisterKind("priority", FlagConfig)
	KindThreshold = RegisterKind("threshold", FlagConfig)
)

// Event is one decoded record.
type Event struct {
	Hart   uint32
	Source uint32
	Value  uint64
	Time   int64 // nanoseconds since the unix epoch
}

type record struct {
	ID     uint32
	Hart   uint32
	Source uint32
	_      uint32
	Value  uint64
	Time   int64
}

var recordSize = binary.Size(record{})

type writer struct {
	w                   io.Writer
	writeThreadComplete chan error
	writerChan          chan record
}

func (w *writer) run() {
	defer close(w.writeThreadComplete)

	var buf [4096]byte
	off := 0

	// write records to the buffer, flushing when the buffer is full
	for rec := range w.writerChan {
		if off+recordSize > len(buf) {
			if _, err := w.w.Write(buf[:off]); err != nil {
				w.writeThreadComplete <- err
				return
			}
			off = 0
		}
		binary.LittleEndian.PutUint32(buf[off:off+4], rec.ID)
		binary.LittleEndian.PutUint32(buf[off+4:off+8], rec.Hart)
		binary.LittleEndian.PutUint32(buf[off+8:off+12], rec.Source)
		binary.LittleEndian.PutUint32(buf[off+12:off+16], 0)
		binary.LittleEndian.PutUint64(buf[off+16:off+24], rec.Value)
		binary.LittleEndian.PutUint64(buf[off+24:off+32], uint64(rec.Time))
		off += recordSize
	}

	// flush any remaining data
	if off > 0 {
		if _, err := w.w.Write(buf[:off]); err != nil {
			w.writeThreadComplete <- err
			return
		}
	}

	w.writeThreadComplete <- nil
}

func (w *writer) Close() error {
	// only one closer wins the swap back to nil
	if !currentWriter.CompareAndSwap(w, nil) {
		return fmt.Errorf("trace: already closed")
	}

	close(w.writerChan)

	if err := <-w.writeThreadComplete; err != nil {
		return fmt.Errorf("trace: write thread: %w", err)
	}

	return nil
}

var currentWriter atomic.Pointer[writer]

// Record emits one event if recording is active, and is free when it
// is not.
func Record(id EventID, hart, source uint32, value uint64) {
	if w := currentWriter.Load(); w != nil {
		w.writerChan <- record{
			ID:     uint32(id),
			Hart:   hart,
			Source: source,
			Value:  value,
			Time:   time.Now().UnixNano(),
		}
	}
}

// Enabled reports whether a recorder is active.
func Enabled() bool {
	return currentWriter.Load() != nil
}

// StartRecording begins writing events to w until the returned closer
// is closed. One recorder per process.
func StartRecording(w io.Writer) (io.Closer, error) {
	if cur := currentWriter.Load(); cur != nil {
		return nil, fmt.Errorf("trace: already recording")
	}

	table, err := json.Marshal(kinds)
	if err != nil {
		return nil, fmt.Errorf("trace: marshal kind table: %w", err)
	}

	off := 0

	if err := binary.Write(w, binary.LittleEndian, header{
		Magic:            Magic,
		Version:          Version,
		EventKindsLength: uint32(len(table)),
	}); err != nil {
		return nil, fmt.Errorf("trace: write header: %w", err)
	}

	off += binary.Size(header{})

	if _, err := w.Write(table); err != nil {
		return nil, fmt.Errorf("trace: write kind table: %w", err)
	}
	off += len(table)

	// pad to 4096 so records start aligned
	if off%4096 != 0 {
		if _, err := w.Write(make([]byte, 4096-off%4096)); err != nil {
			return nil, fmt.Errorf("trace: write padding: %w", err)
		}
	}

	wr := &writer{
		w:                   w,
		writerChan:          make(chan record, 4096),
		writeThreadComplete: make(chan error),
	}

	if !currentWriter.CompareAndSwap(nil, wr) {
		return nil, fmt.Errorf("trace: already recording")
	}

	go wr.run()
	return wr, nil
}

// ReadAllRecords streams every event in a trace, calling fn with the
// kind name, its flags, and the decoded record.
func ReadAllRecords(r io.Reader, fn func(name string, flags EventFlags, ev Event) error) error {
	var table map[EventID]KindInfo

	buf := bufio.NewReaderSize(r, 4096)

	var hdr header
	if err := binary.Read(buf, binary.LittleEndian, &hdr); err != nil {
		return err
	}
	if hdr.Magic != Magic {
		return fmt.Errorf("trace: invalid magic")
	}
	if hdr.Version != Version {
		return fmt.Errorf("trace: invalid version")
	}

	dec := json.NewDecoder(io.LimitReader(buf, int64(hdr.EventKindsLength)))
	if err := dec.Decode(&table); err != nil {
		return err
	}

	// skip the padding
	off := int(hdr.EventKindsLength) + binary.Size(hdr)
	if off%4096 != 0 {
		if _, err := buf.Discard(4096 - off%4096); err != nil {
			return err
		}
	}

	for {
		var rec record
		if err := binary.Read(buf, binary.LittleEndian, &rec); err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		kind, ok := table[EventID(rec.ID)]
		if !ok {
			return fmt.Errorf("trace: unknown kind: %d", rec.ID)
		}
		ev := Event{
			Hart:   rec.Hart,
			Source: rec.Source,
			Value:  rec.Value,
			Time:   rec.Time,
		}
		if err := fn(kind.Name, kind.Flags, ev); err != nil {
			return err
		}
	}

	return nil
}
