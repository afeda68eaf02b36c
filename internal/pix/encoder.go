// Package pix encodes PIX charges into the BR Code (EMV MPM) text format.
package pix

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// KeyType identifies how the payee key must be normalized.
type KeyType string

const (
	KeyCPF    KeyType = "cpf"
	KeyPhone  KeyType = "celular"
	KeyEmail  KeyType = "email"
	KeyRandom KeyType = "aleatoria"
)

// EMV field ids in emission order.
const (
	idPayloadFormat      = "00"
	idInitiationMethod   = "01"
	idMerchantAccount    = "26"
	idMerchantCategory   = "52"
	idCurrency           = "53"
	idAmount             = "54"
	idCountry            = "58"
	idMerchantName       = "59"
	idMerchantCity       = "60"
	idAdditionalData     = "62"
	idCRC                = "63"
	idAccountGUI         = "00"
	idAccountKey         = "01"
	idAdditionalDataTxID = "05"
)

const (
	pixGUI       = "br.gov.bcb.pix"
	currencyBRL  = "986" // ISO 4217 numeric
	countryBR    = "BR"
	defaultTxID  = "***"
	maxNameLen   = 25
	maxCityLen   = 15
	maxTxIDLen   = 25
	methodStatic = "11"
	methodAmount = "12"
)

// Charge describes one scannable PIX charge. Amount zero produces a static
// code (payer types the value); a positive amount produces a dynamic one.
type Charge struct {
	Key          string
	KeyType      KeyType
	MerchantName string
	MerchantCity string
	Amount       float64
	TxID         string
}

// Encode renders the charge as a BR Code payload terminated by its
// CRC16-CCITT checksum. The output is deterministic for equal inputs.
func Encode(c Charge) (string, error) {
	key, err := normalizeKey(c.Key, c.KeyType)
	if err != nil {
		return "", err
	}

	name := normalizeText(c.MerchantName, maxNameLen)
	city := normalizeText(c.MerchantCity, maxCityLen)
	if name == "" {
		return "", fmt.Errorf("pix: merchant name is required")
	}
	if city == "" {
		return "", fmt.Errorf("pix: merchant city is required")
	}

	txid := strings.TrimSpace(c.TxID)
	if txid == "" {
		txid = defaultTxID
	}
	if len(txid) > maxTxIDLen {
		txid = txid[:maxTxIDLen]
	}

	method := methodStatic
	if c.Amount > 0 {
		method = methodAmount
	}

	var b strings.Builder
	b.WriteString(tlv(idPayloadFormat, "01"))
	b.WriteString(tlv(idInitiationMethod, method))
	b.WriteString(tlv(idMerchantAccount, tlv(idAccountGUI, pixGUI)+tlv(idAccountKey, key)))
	b.WriteString(tlv(idMerchantCategory, "0000"))
	b.WriteString(tlv(idCurrency, currencyBRL))
	if c.Amount > 0 {
		b.WriteString(tlv(idAmount, fmt.Sprintf("%.2f", c.Amount)))
	}
	b.WriteString(tlv(idCountry, countryBR))
	b.WriteString(tlv(idMerchantName, name))
	b.WriteString(tlv(idMerchantCity, city))
	b.WriteString(tlv(idAdditionalData, tlv(idAdditionalDataTxID, txid)))

	payload := b.String() + idCRC + "04"
	return payload + checksum(payload), nil
}

func tlv(id, value string) string {
	return fmt.Sprintf("%s%02d%s", id, len(value), value)
}

// normalizeKey applies the per-type key canonicalization: CPF keeps digits
// only, phones become E.164 with the +55 prefix, emails are lowercased and
// random (EVP) keys pass through untouched.
func normalizeKey(raw string, kt KeyType) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("pix: key is required")
	}

	switch kt {
	case KeyCPF:
		d := digits(raw)
		if d == "" {
			return "", fmt.Errorf("pix: cpf key has no digits")
		}
		return d, nil
	case KeyPhone:
		d := digits(raw)
		if d == "" {
			return "", fmt.Errorf("pix: phone key has no digits")
		}
		if strings.HasPrefix(d, "55") && len(d) >= 12 {
			return "+" + d, nil
		}
		return "+55" + d, nil
	case KeyEmail:
		return strings.ToLower(raw), nil
	case KeyRandom:
		return raw, nil
	default:
		return "", fmt.Errorf("pix: unknown key type %q", kt)
	}
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalizeText strips accents, uppercases and truncates to max bytes, per
// the BR Code restrictions on merchant name and city.
func normalizeText(s string, max int) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	var b strings.Builder
	for _, r := range out {
		if r < 128 {
			b.WriteRune(r)
		}
	}
	out = strings.ToUpper(strings.TrimSpace(b.String()))
	if len(out) > max {
		out = out[:max]
	}
	return out
}

// checksum computes CRC16-CCITT (poly 0x1021, init 0xFFFF) over the payload
// and renders it as 4 uppercase hex digits.
func checksum(payload string) string {
	crc := uint16(0xFFFF)
	for _, b := range []byte(payload) {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return fmt.Sprintf("%04X", crc)
}
