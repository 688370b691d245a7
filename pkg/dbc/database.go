package dbc

import (
	"os"
	"sort"

	"github.com/cockroachdb/errors"
	cdbc "go.einride.tech/can/pkg/dbc"
	"go.einride.tech/can/pkg/descriptor"
)

// Database holds the compiled message and signal descriptors of a DBC
// file, indexed for frame decoding.
type Database struct {
	db    *descriptor.Database
	byID  map[uint32]*descriptor.Message
	warns []error
}

// Load reads and parses a DBC file using the can-go parser and compiles
// it into a Database. Defs that only matter for code generation are
// ignored; defs needed for decoding (signal value types, value
// descriptions, comments) are applied to the descriptors.
func Load(filePath string) (*Database, error) {
	dbcBytes, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrap(err, "read dbc file")
	}
	return Compile(filePath, dbcBytes)
}

// Compile builds a Database from raw DBC source.
func Compile(sourceName string, dbcBytes []byte) (*Database, error) {
	p := cdbc.NewParser(sourceName, dbcBytes)
	if err := p.Parse(); err != nil {
		return nil, errors.Wrap(err, "parse dbc file")
	}

	d := &Database{
		db:   &descriptor.Database{SourceFile: sourceName},
		byID: make(map[uint32]*descriptor.Message),
	}
	defs := p.Defs()
	d.collectDescriptors(defs)
	d.applyMetadata(defs)
	d.sortDescriptors()

	for _, m := range d.db.Messages {
		d.byID[m.ID] = m
	}
	return d, nil
}

// Version returns the VERSION string of the DBC file, if any.
func (d *Database) Version() string {
	return d.db.Version
}

// Messages returns all compiled messages sorted by CAN ID.
func (d *Database) Messages() []*descriptor.Message {
	return d.db.Messages
}

// Message looks up a message descriptor by CAN ID.
func (d *Database) Message(id uint32) (*descriptor.Message, bool) {
	m, ok := d.byID[id]
	return m, ok
}

// Warnings returns non-fatal problems found while compiling, such as
// metadata referring to undeclared signals.
func (d *Database) Warnings() []error {
	return d.warns
}

func (d *Database) collectDescriptors(defs []cdbc.Def) {
	for _, def := range defs {
		switch def := def.(type) {
		case *cdbc.VersionDef:
			d.db.Version = def.Version
		case *cdbc.MessageDef:
			if def.MessageID == cdbc.IndependentSignalsMessageID {
				continue // don't compile
			}
			message := &descriptor.Message{
				Name:       string(def.Name),
				ID:         def.MessageID.ToCAN(),
				IsExtended: def.MessageID.IsExtended(),
				Length:     uint8(def.Size),
				SenderNode: string(def.Transmitter),
			}
			for _, signalDef := range def.Signals {
				signal := &descriptor.Signal{
					Name:             string(signalDef.Name),
					IsBigEndian:      signalDef.IsBigEndian,
					IsSigned:         signalDef.IsSigned,
					IsMultiplexer:    signalDef.IsMultiplexerSwitch,
					IsMultiplexed:    signalDef.IsMultiplexed,
					MultiplexerValue: uint(signalDef.MultiplexerSwitch),
					Start:            uint8(signalDef.StartBit),
					Length:           uint8(signalDef.Size),
					Scale:            signalDef.Factor,
					Offset:           signalDef.Offset,
					Min:              signalDef.Minimum,
					Max:              signalDef.Maximum,
					Unit:             signalDef.Unit,
				}
				for _, receiver := range signalDef.Receivers {
					signal.ReceiverNodes = append(signal.ReceiverNodes, string(receiver))
				}
				message.Signals = append(message.Signals, signal)
			}
			d.db.Messages = append(d.db.Messages, message)
		case *cdbc.NodesDef:
			for _, node := range def.NodeNames {
				d.db.Nodes = append(d.db.Nodes, &descriptor.Node{Name: string(node)})
			}
		}
	}
}

// applyMetadata folds decode-relevant defs (float signal types, value
// descriptions, comments) into the collected descriptors. Codegen-only
// attributes (cycle times, start values) are not needed for replay.
func (d *Database) applyMetadata(defs []cdbc.Def) {
	for _, def := range defs {
		switch def := def.(type) {
		case *cdbc.SignalValueTypeDef:
			signal, ok := d.db.Signal(def.MessageID.ToCAN(), string(def.SignalName))
			if !ok {
				d.warns = append(d.warns, errors.Newf("no declared signal: %v", def))
				continue
			}
			switch def.SignalValueType {
			case cdbc.SignalValueTypeInt:
				signal.IsFloat = false
			case cdbc.SignalValueTypeFloat32:
				if signal.Length == 32 {
					signal.IsFloat = true
				} else {
					d.warns = append(d.warns, errors.Newf("incorrect float signal length: %d", signal.Length))
				}
			default:
				d.warns = append(d.warns, errors.Newf("unsupported signal value type: %v", def.SignalValueType))
			}
		case *cdbc.CommentDef:
			if def.MessageID == cdbc.IndependentSignalsMessageID {
				continue // don't compile
			}
			switch def.ObjectType {
			case cdbc.ObjectTypeMessage:
				if message, ok := d.db.Message(def.MessageID.ToCAN()); ok {
					message.Description = def.Comment
				}
			case cdbc.ObjectTypeSignal:
				if signal, ok := d.db.Signal(def.MessageID.ToCAN(), string(def.SignalName)); ok {
					signal.Description = def.Comment
				}
			}
		case *cdbc.ValueDescriptionsDef:
			if def.MessageID == cdbc.IndependentSignalsMessageID {
				continue // don't compile
			}
			if def.ObjectType != cdbc.ObjectTypeSignal {
				continue // don't compile
			}
			signal, ok := d.db.Signal(def.MessageID.ToCAN(), string(def.SignalName))
			if !ok {
				d.warns = append(d.warns, errors.Newf("no declared signal: %v", def))
				continue
			}
			for _, valueDescription := range def.ValueDescriptions {
				signal.ValueDescriptions = append(signal.ValueDescriptions, &descriptor.ValueDescription{
					Description: valueDescription.Description,
					Value:       int64(valueDescription.Value),
				})
			}
		}
	}
}

func (d *Database) sortDescriptors() {
	sort.Slice(d.db.Nodes, func(i, j int) bool {
		return d.db.Nodes[i].Name < d.db.Nodes[j].Name
	})
	sort.Slice(d.db.Messages, func(i, j int) bool {
		return d.db.Messages[i].ID < d.db.Messages[j].ID
	})
	for _, m := range d.db.Messages {
		sort.Slice(m.Signals, func(j, k int) bool {
			if m.Signals[j].MultiplexerValue != m.Signals[k].MultiplexerValue {
				return m.Signals[j].MultiplexerValue < m.Signals[k].MultiplexerValue
			}
			return m.Signals[j].Start < m.Signals[k].Start
		})
		for _, s := range m.Signals {
			sort.Slice(s.ValueDescriptions, func(k, l int) bool {
				return s.ValueDescriptions[k].Value < s.ValueDescriptions[l].Value
			})
		}
	}
}
