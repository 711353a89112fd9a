// seehuhn.de/go/pdfunlock - remove restrictions from PDF files
// Copyright (C) 2025  Jochen Voss <voss@seehuhn.de>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package pdf

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rc4"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// EncryptionMethod selects the cipher used by a [Writer] to encrypt a file.
type EncryptionMethod int

// These are the supported encryption methods.
const (
	EncryptNone EncryptionMethod = iota
	EncryptRC4_40
	EncryptRC4_128
	EncryptAES_128
	EncryptAES_256
)

func (m EncryptionMethod) String() string {
	switch m {
	case EncryptNone:
		return "none"
	case EncryptRC4_40:
		return "RC4-40"
	case EncryptRC4_128:
		return "RC4-128"
	case EncryptAES_128:
		return "AES-128"
	case EncryptAES_256:
		return "AES-256"
	default:
		return fmt.Sprintf("EncryptionMethod(%d)", int(m))
	}
}

// newEncryptInfo sets up the standard security handler for writing a file.
func newEncryptInfo(method EncryptionMethod, id []byte, userPwd, ownerPwd string, perm Perm) (*encryptInfo, error) {
	var V, length int
	var cf *cryptFilter
	switch method {
	case EncryptRC4_40:
		V, length = 1, 40
		cf = &cryptFilter{Cipher: cipherRC4, Length: 40}
	case EncryptRC4_128:
		V, length = 2, 128
		cf = &cryptFilter{Cipher: cipherRC4, Length: 128}
	case EncryptAES_128:
		V, length = 4, 128
		cf = &cryptFilter{Cipher: cipherAES, Length: 128}
	case EncryptAES_256:
		V, length = 5, 256
		cf = &cryptFilter{Cipher: cipherAES, Length: 256}
	default:
		return nil, fmt.Errorf("unsupported encryption method %s", method)
	}

	sec, err := createStdSecHandler(id, userPwd, ownerPwd, perm, length, V)
	if err != nil {
		return nil, err
	}
	return &encryptInfo{
		Filter:       "Standard",
		V:            V,
		sec:          sec,
		strF:         cf,
		stmF:         cf,
		efF:          cf,
		filtersKnown: true,
		keyBytes:     length / 8,
	}, nil
}

// AsDict returns the encryption dictionary for a file written with enc.
func (enc *encryptInfo) AsDict() Dict {
	dict := Dict{
		"Filter": Name("Standard"),
		"V":      Integer(enc.V),
	}

	cf := enc.stmF
	switch enc.V {
	case 2:
		dict["Length"] = Integer(cf.Length)
	case 4, 5:
		cfm := Name("AESV2")
		if enc.V == 5 {
			cfm = "AESV3"
			dict["Length"] = Integer(256)
		}
		dict["StmF"] = Name("StdCF")
		dict["StrF"] = Name("StdCF")
		dict["CF"] = Dict{
			"StdCF": Dict{"Length": Integer(cf.Length / 8), "CFM": cfm},
		}
	}

	sec := enc.sec
	dict["R"] = Integer(sec.R)
	dict["O"] = String(sec.O)
	dict["U"] = String(sec.U)
	dict["P"] = Integer(int32(sec.P))
	if sec.unencryptedMetaData {
		dict["EncryptMetadata"] = Bool(false)
	}
	if sec.R == 6 {
		dict["OE"] = String(sec.OE)
		dict["UE"] = String(sec.UE)
		dict["Perms"] = String(sec.Perms)
	}

	return dict
}

// encryptBytes encrypts buf using Algorithm 1 of ISO 32000.  The data
// in buf is not modified.
func (enc *encryptInfo) encryptBytes(cf *cryptFilter, ref Reference, buf []byte) ([]byte, error) {
	if cf == nil {
		return buf, nil
	}

	key, err := enc.sec.keyForRef(cf, ref)
	if err != nil {
		return nil, err
	}
	switch cf.Cipher {
	case cipherAES:
		n := len(buf)
		nPad := 16 - n%16
		out := make([]byte, 16+n+nPad) // iv | c(data|padding)

		iv := out[:16]
		_, err = io.ReadFull(rand.Reader, iv)
		if err != nil {
			return nil, err
		}
		copy(out[16:], buf)
		for i := 16 + n; i < len(out); i++ {
			out[i] = byte(nPad)
		}

		c, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		cbc := cipher.NewCBCEncrypter(c, iv)
		cbc.CryptBlocks(out[16:], out[16:])
		return out, nil
	case cipherRC4:
		c, err := rc4.NewCipher(key)
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(buf))
		c.XORKeyStream(out, buf)
		return out, nil
	default:
		panic("unknown cipher")
	}
}

// encryptObject returns a copy of obj with all strings and stream data
// encrypted.
func (enc *encryptInfo) encryptObject(ref Reference, obj Object) (Object, error) {
	switch x := obj.(type) {
	case String:
		res, err := enc.encryptBytes(enc.strF, ref, x)
		if err != nil {
			return nil, err
		}
		return String(res), nil
	case Array:
		res := make(Array, len(x))
		for i, elem := range x {
			val, err := enc.encryptObject(ref, elem)
			if err != nil {
				return nil, err
			}
			res[i] = val
		}
		return res, nil
	case Dict:
		res := make(Dict, len(x))
		for key, elem := range x {
			val, err := enc.encryptObject(ref, elem)
			if err != nil {
				return nil, err
			}
			res[key] = val
		}
		return res, nil
	case *Stream:
		dict, err := enc.encryptObject(ref, x.Dict)
		if err != nil {
			return nil, err
		}
		raw, err := enc.encryptBytes(enc.stmF, ref, x.Raw)
		if err != nil {
			return nil, err
		}
		return &Stream{Dict: dict.(Dict), Raw: raw}, nil
	default:
		return obj, nil
	}
}

// createStdSecHandler allocates a new, pre-authenticated PDF Standard Security
// Handler.  This is used when creating new PDF documents.
func createStdSecHandler(id []byte, userPwd, ownerPwd string, perm Perm, length, V int) (*stdSecHandler, error) {
	if ownerPwd == "" {
		ownerPwd = userPwd
	}

	var R int
	switch {
	case V < 2 && perm.canR2():
		R = 2
	case V <= 3:
		R = 3
	case V == 4:
		R = 4
	case V == 5:
		R = 6
	default:
		return nil, errors.New("invalid Encrypt.V")
	}

	sec := &stdSecHandler{
		ID:       id,
		keyBytes: length / 8,
		R:        R,
		P:        stdSecPermToP(perm),

		ownerAuthenticated: true,
	}

	switch R {
	case 2, 3, 4:
		paddedUserPwd, err := padPasswd(userPwd)
		if err != nil {
			return nil, err
		}
		paddedOwnerPwd, err := padPasswd(ownerPwd)
		if err != nil {
			return nil, err
		}
		sec.O = sec.computeO(paddedUserPwd, paddedOwnerPwd)
		fileEncryptionKey := sec.computeFileEncyptionKey(paddedUserPwd)
		sec.U = sec.computeU(fileEncryptionKey)
		sec.key = fileEncryptionKey
	case 6:
		utf8UserPwd, err := utf8Passwd(userPwd)
		if err != nil {
			return nil, err
		}
		utf8OwnerPwd, err := utf8Passwd(ownerPwd)
		if err != nil {
			return nil, err
		}
		sec.key = make([]byte, 32)
		_, err = rand.Read(sec.key)
		if err != nil {
			return nil, err
		}
		sec.U, sec.UE, err = sec.computeUAndUE(utf8UserPwd)
		if err != nil {
			return nil, err
		}
		sec.O, sec.OE, err = sec.computeOAndOE(utf8OwnerPwd)
		if err != nil {
			return nil, err
		}
		sec.Perms = sec.computePerms(sec.key)
	}

	return sec, nil
}

// Algorithm 3: compute O.
func (sec *stdSecHandler) computeO(paddedUserPwd, paddedOwnerPwd []byte) []byte {
	rc4key := sec.ownerKey(paddedOwnerPwd)

	c, _ := rc4.NewCipher(rc4key)
	O := make([]byte, 32)
	c.XORKeyStream(O, paddedUserPwd)
	if sec.R >= 3 {
		key := make([]byte, len(rc4key))
		for i := byte(1); i <= 19; i++ {
			for j := range key {
				key[j] = rc4key[j] ^ i
			}
			c, _ = rc4.NewCipher(key)
			c.XORKeyStream(O, O)
		}
	}
	return O
}

// Algorithm 8: Computing U and UE (Security handlers of revision 6)
func (sec *stdSecHandler) computeUAndUE(utf8UserPwd []byte) ([]byte, []byte, error) {
	buf := make([]byte, 16)
	_, err := rand.Read(buf)
	if err != nil {
		return nil, nil, err
	}

	out := slowHash(utf8UserPwd, buf[:8], nil) // user validation salt
	U := make([]byte, 0, 48)
	U = append(U, out...)
	U = append(U, buf...)

	key := slowHash(utf8UserPwd, buf[8:], nil) // user key salt
	c, _ := aes.NewCipher(key)
	cbc := cipher.NewCBCEncrypter(c, zero16)
	UE := make([]byte, 32)
	cbc.CryptBlocks(UE, sec.key)

	return U, UE, nil
}

// Algorithm 9: Computing O and OE (Security handlers of revision 6)
func (sec *stdSecHandler) computeOAndOE(utf8OwnerPwd []byte) ([]byte, []byte, error) {
	buf := make([]byte, 16)
	_, err := rand.Read(buf)
	if err != nil {
		return nil, nil, err
	}

	out := slowHash(utf8OwnerPwd, buf[:8], sec.U) // owner validation salt
	O := make([]byte, 0, 48)
	O = append(O, out...)
	O = append(O, buf...)

	key := slowHash(utf8OwnerPwd, buf[8:], sec.U) // owner key salt
	c, _ := aes.NewCipher(key)
	cbc := cipher.NewCBCEncrypter(c, zero16)
	OE := make([]byte, 32)
	cbc.CryptBlocks(OE, sec.key)

	return O, OE, nil
}

// Algorithm 10: Computing the Perms value (Security handlers of revision 6)
func (sec *stdSecHandler) computePerms(fileEncryptionKey []byte) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf, sec.P)
	buf[4] = 0xFF
	buf[5] = 0xFF
	buf[6] = 0xFF
	buf[7] = 0xFF
	if sec.unencryptedMetaData {
		buf[8] = 'F'
	} else {
		buf[8] = 'T'
	}
	buf[9] = 'a'
	buf[10] = 'd'
	buf[11] = 'b'

	c, _ := aes.NewCipher(fileEncryptionKey)
	c.Encrypt(buf, buf)
	return buf
}

// canR2 checks whether the permissions can be represented by revision 2 of the
// standard security handler.
func (perm Perm) canR2() bool {
	if perm&PermPrint == 0 && perm&PermPrintDegraded != 0 {
		return false
	}
	if perm&PermAnnotate == 0 && perm&PermForms != 0 {
		return false
	}
	if perm&PermModify == 0 && perm&PermAssemble != 0 {
		return false
	}
	return true
}

func stdSecPermToP(perm Perm) uint32 {
	forbidden := uint32(3)
	if perm&PermCopy == 0 {
		forbidden |= 1 << (5 - 1)
	}
	if perm&PermPrint == 0 {
		forbidden |= 1 << (12 - 1)
		if perm&PermPrintDegraded == 0 {
			forbidden |= 1 << (3 - 1)
		}
	}
	if perm&PermAnnotate == 0 {
		forbidden |= 1 << (6 - 1)
		if perm&PermForms == 0 {
			forbidden |= 1 << (9 - 1)
		}
	}
	if perm&PermAssemble == 0 {
		forbidden |= 1 << (11 - 1)
	}
	if perm&PermModify == 0 {
		forbidden |= 1 << (4 - 1)
	}
	return ^forbidden
}
