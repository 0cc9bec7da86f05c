// Package codec serializes component values as JSON.
package codec

import (
	"reflect"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"

	"github.com/plus3/colony/ecs"
)

func Decode[T any](bz []byte) (T, error) {
	comp := new(T)
	err := json.Unmarshal(bz, comp)
	if err != nil {
		return *comp, eris.Wrap(err, "")
	}
	return *comp, nil
}

func Encode(comp any) ([]byte, error) {
	bz, err := json.Marshal(comp)
	if err != nil {
		return nil, eris.Wrap(err, "")
	}
	return bz, nil
}

// EncodeValue encodes a value as returned by World.Get for the component described by info.
// Go types encode as their JSON form, raw layouts as base64 bytes and tags as null.
func EncodeValue(info ecs.ComponentInfo, value any) ([]byte, error) {
	if info.IsTag() {
		return []byte("null"), nil
	}
	if info.Type == nil {
		raw, ok := value.([]byte)
		if !ok || uintptr(len(raw)) != info.Size {
			return nil, eris.Wrapf(ecs.ErrTypeMismatch, "component %s expects %d bytes", info.Name, info.Size)
		}
	}
	bz, err := Encode(value)
	if err != nil {
		return nil, eris.Wrapf(err, "encoding component %s", info.Name)
	}
	return bz, nil
}

// DecodeValue decodes data into a value World.Set accepts for the component described by info.
func DecodeValue(info ecs.ComponentInfo, data []byte) (any, error) {
	if info.IsTag() {
		return nil, nil
	}
	if info.Type == nil {
		raw, err := Decode[[]byte](data)
		if err != nil {
			return nil, eris.Wrapf(err, "decoding component %s", info.Name)
		}
		if uintptr(len(raw)) != info.Size {
			return nil, eris.Wrapf(ecs.ErrTypeMismatch, "component %s expects %d bytes, got %d", info.Name, info.Size, len(raw))
		}
		return raw, nil
	}

	ptr := reflect.New(info.Type)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, eris.Wrapf(err, "decoding component %s", info.Name)
	}
	return ptr.Elem().Interface(), nil
}
