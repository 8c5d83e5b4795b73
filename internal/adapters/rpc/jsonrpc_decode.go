package rpc

import (
	"bytes"
	"encoding/json"
	"strings"
)

type approveParams struct {
	ID       string `json:"id"`
	Remember bool   `json:"remember"`
}

type invoiceParams struct {
	AmountMsat int64  `json:"amount_msat"`
	Memo       string `json:"memo"`
}

// decodeObjectParams accepts {...} or a one-element array [{...}].
func decodeObjectParams(raw json.RawMessage, dst any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return errInvalidParams
	}
	if raw[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil || len(arr) != 1 {
			return errInvalidParams
		}
		raw = arr[0]
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errInvalidParams
	}
	return nil
}

// decodeStringParam reads a single string either positionally (["x"]) or
// from the named field ({"name": "x"}).
func decodeStringParam(raw json.RawMessage, name string) (string, error) {
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		if len(arr) == 1 && strings.TrimSpace(arr[0]) != "" {
			return strings.TrimSpace(arr[0]), nil
		}
		return "", errInvalidParams
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || len(obj) != 1 {
		return "", errInvalidParams
	}
	field, ok := obj[name]
	if !ok {
		return "", errInvalidParams
	}
	var value string
	if err := json.Unmarshal(field, &value); err != nil || strings.TrimSpace(value) == "" {
		return "", errInvalidParams
	}
	return strings.TrimSpace(value), nil
}

func decodeApproveParams(raw json.RawMessage) (approveParams, error) {
	var p approveParams
	if err := decodeObjectParams(raw, &p); err != nil {
		return approveParams{}, err
	}
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return approveParams{}, errInvalidParams
	}
	return p, nil
}

func decodeInvoiceParams(raw json.RawMessage) (invoiceParams, error) {
	var p invoiceParams
	if err := decodeObjectParams(raw, &p); err != nil {
		return invoiceParams{}, err
	}
	if p.AmountMsat <= 0 || len(p.Memo) > 640 {
		return invoiceParams{}, errInvalidParams
	}
	return p, nil
}
