package codec

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"ecstore/internal/device"
)

var (
	// Weight encodes a device weight.
	Weight = newCodec(appendWeight, decodeWeight)
	// Device encodes a device record. Decoding validates the record.
	Device = newCodec(appendDevice, decodeDevice)
	// DeviceSummary encodes a device listing entry.
	DeviceSummary = newCodec(appendDeviceSummary, decodeDeviceSummary)
	// Server encodes a server record.
	Server = newCodec(appendServer, decodeServer)
)

func appendWeight(b []byte, w device.Weight) ([]byte, error) {
	switch w.Kind {
	case device.WeightAuto:
		return AppendVarintField(b, 1, 0), nil
	case device.WeightAbsolute:
		return AppendVarintField(b, 2, w.Absolute), nil
	case device.WeightRelative:
		b = protowire.AppendTag(b, 3, protowire.Fixed64Type)
		return protowire.AppendFixed64(b, math.Float64bits(w.Relative)), nil
	default:
		return nil, fmt.Errorf("weight kind %d: %w", w.Kind, ErrUnknownDiscriminant)
	}
}

// decodeWeight decodes a weight; an empty message is Auto.
func decodeWeight(b []byte) (device.Weight, error) {
	f, ok, err := oneof(b, 3)
	if err != nil || !ok {
		return device.AutoWeight(), err
	}
	switch f.Num {
	case 1:
		if _, err := f.Uint32(); err != nil {
			return device.Weight{}, err
		}
		return device.AutoWeight(), nil
	case 2:
		n, err := f.Uint64()
		if err != nil {
			return device.Weight{}, err
		}
		return device.AbsoluteWeight(n), nil
	default:
		if err := f.Want(protowire.Fixed64Type); err != nil {
			return device.Weight{}, err
		}
		return device.RelativeWeight(math.Float64frombits(f.Val)), nil
	}
}

func deviceKindCode(k device.Kind) (uint64, error) {
	switch k {
	case device.Virtual, device.Memory, device.File:
		return uint64(k), nil
	default:
		return 0, fmt.Errorf("device kind %d: %w", k, ErrUnknownDiscriminant)
	}
}

func deviceKindFromCode(code uint32) (device.Kind, error) {
	if code > uint32(device.File) {
		return 0, fmt.Errorf("device kind code %d: %w", code, ErrUnknownDiscriminant)
	}
	return device.Kind(code), nil
}

func policyFromCode(code uint32) (device.Policy, error) {
	if code > uint32(device.AsEvenAsPossible) {
		return 0, fmt.Errorf("allocation policy code %d: %w", code, ErrUnknownDiscriminant)
	}
	return device.Policy(code), nil
}

func appendDevice(b []byte, d device.Device) ([]byte, error) {
	code, err := deviceKindCode(d.Kind)
	if err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	weight, err := appendWeight(nil, d.Weight)
	if err != nil {
		return nil, err
	}

	var inner []byte
	inner = AppendStringField(inner, 1, d.ID)
	inner = AppendVarintField(inner, 2, uint64(d.Seqno))
	inner = AppendBytesField(inner, 3, weight)
	switch d.Kind {
	case device.Virtual:
		for _, c := range d.SortedChildren() {
			inner = AppendStringField(inner, 4, c)
		}
		inner = AppendVarintField(inner, 5, uint64(d.Policy))
	default:
		inner = AppendStringField(inner, 4, d.Server)
		inner = AppendVarintField(inner, 5, d.Capacity)
		if d.Kind == device.File {
			inner = AppendStringField(inner, 6, d.Filepath)
		}
	}
	return AppendBytesField(b, protowire.Number(code+1), inner), nil
}

func decodeDevice(b []byte) (device.Device, error) {
	f, ok, err := oneof(b, 3)
	if err != nil {
		return device.Device{}, err
	}
	if !ok {
		return device.Device{}, fmt.Errorf("empty device: %w", ErrUnknownDiscriminant)
	}
	if err := f.Want(protowire.BytesType); err != nil {
		return device.Device{}, err
	}
	kind, err := deviceKindFromCode(uint32(f.Num - 1))
	if err != nil {
		return device.Device{}, err
	}

	fields, err := ParseFields(f.Raw)
	if err != nil {
		return device.Device{}, err
	}
	d := device.Device{Kind: kind}
	for _, g := range fields {
		switch {
		case g.Num == 1:
			d.ID, err = g.Text()
		case g.Num == 2:
			d.Seqno, err = g.Uint32()
		case g.Num == 3:
			if err = g.Want(protowire.BytesType); err == nil {
				d.Weight, err = decodeWeight(g.Raw)
			}
		case g.Num == 4 && kind == device.Virtual:
			var child string
			if child, err = g.Text(); err == nil {
				d.Children = append(d.Children, child)
			}
		case g.Num == 5 && kind == device.Virtual:
			var code uint32
			if code, err = g.Uint32(); err == nil {
				d.Policy, err = policyFromCode(code)
			}
		case g.Num == 4:
			d.Server, err = g.Text()
		case g.Num == 5:
			d.Capacity, err = g.Uint64()
		case g.Num == 6 && kind == device.File:
			d.Filepath, err = g.Text()
		}
		if err != nil {
			return device.Device{}, err
		}
	}
	if err := d.Validate(); err != nil {
		return device.Device{}, err
	}
	return d, nil
}

func appendDeviceSummary(b []byte, s device.Summary) ([]byte, error) {
	code, err := deviceKindCode(s.Kind)
	if err != nil {
		return nil, err
	}
	b = AppendStringField(b, 1, s.ID)
	if s.Server != "" {
		b = AppendStringField(b, 2, s.Server)
	}
	return AppendVarintField(b, 3, code), nil
}

func decodeDeviceSummary(b []byte) (device.Summary, error) {
	fields, err := ParseFields(b)
	if err != nil {
		return device.Summary{}, err
	}
	var s device.Summary
	for _, f := range fields {
		switch f.Num {
		case 1:
			s.ID, err = f.Text()
		case 2:
			s.Server, err = f.Text()
		case 3:
			var code uint32
			if code, err = f.Uint32(); err == nil {
				s.Kind, err = deviceKindFromCode(code)
			}
		}
		if err != nil {
			return device.Summary{}, err
		}
	}
	return s, nil
}

func appendServer(b []byte, s device.Server) ([]byte, error) {
	if !s.Host.IsValid() {
		return nil, fmt.Errorf("server %s without host: %w", s.ID, ErrMalformed)
	}
	b = AppendStringField(b, 1, s.ID)
	b = AppendVarintField(b, 2, uint64(s.Seqno))
	b = AppendStringField(b, 3, s.Host.String())
	return AppendVarintField(b, 4, uint64(s.Port)), nil
}

func decodeServer(b []byte) (device.Server, error) {
	fields, err := ParseFields(b)
	if err != nil {
		return device.Server{}, err
	}
	var (
		id, host string
		seqno    uint32
		port     uint32
	)
	for _, f := range fields {
		switch f.Num {
		case 1:
			id, err = f.Text()
		case 2:
			seqno, err = f.Uint32()
		case 3:
			host, err = f.Text()
		case 4:
			port, err = f.Uint32()
		}
		if err != nil {
			return device.Server{}, err
		}
	}
	return device.ParseServer(id, seqno, host, port)
}
