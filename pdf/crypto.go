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
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rc4"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"

	"github.com/xdg-go/stringprep"
	"golang.org/x/text/unicode/norm"
)

// ReadPwdFunc describes a function which can be used to query the user for a
// password for the document with the given ID.  The first call for each
// authentication attempt has try == 0.  If the returned password was wrong,
// the function is called again, repeatedly, with sequentially increasing
// values of try.  If the ReadPwdFunc returns the empty string, the
// authentication attempt is aborted.
type ReadPwdFunc func(ID []byte, try int) string

type encryptInfo struct {
	// Filter is the name of the security handler.
	Filter Name

	// V is the version of the encryption algorithm.
	V int

	sec *stdSecHandler

	strF *cryptFilter // strings
	stmF *cryptFilter // streams
	efF  *cryptFilter // embedded files

	// cf holds the crypt filter dictionaries, for streams which select
	// their own crypt filter.
	cf Dict

	// filtersKnown is true if the crypt filters could be determined.
	filtersKnown bool

	// keyBytes is the length of the file encryption key in bytes.
	keyBytes int
}

// parseEncryptDict reads the encryption dictionary.  The returned
// encryptInfo describes as much of the dictionary as could be understood,
// even if an error is returned.
func parseEncryptDict(enc Dict, ID []byte) (*encryptInfo, error) {
	res := &encryptInfo{}

	filter, _ := enc["Filter"].(Name)
	res.Filter = filter

	V, ok := enc["V"].(Integer)
	if !ok {
		V = 0
	}
	res.V = int(V)

	switch V {
	case 1:
		cf := &cryptFilter{
			Cipher: cipherRC4,
			Length: 40,
		}
		res.stmF = cf
		res.strF = cf
		res.efF = cf
		res.keyBytes = 5
	case 2, 3:
		cf := &cryptFilter{
			Cipher: cipherRC4,
			Length: 40, // default
		}
		if obj, ok := enc["Length"].(Integer); ok {
			cf.Length = int(obj)
			if cf.Length < 40 || cf.Length > 128 || cf.Length%8 != 0 {
				return res, fmt.Errorf("invalid /Length %d", cf.Length)
			}
		}
		res.stmF = cf
		res.strF = cf
		res.efF = cf
		res.keyBytes = cf.Length / 8
	case 4, 5:
		CF, _ := enc["CF"].(Dict)
		res.cf = CF
		res.stmF = nil // the default is Identity
		res.strF = nil
		if obj, ok := enc["StmF"].(Name); ok {
			cf, err := getCryptFilter(obj, CF)
			if err != nil {
				return res, wrap(err, "StmF")
			}
			res.stmF = cf
		}
		if obj, ok := enc["StrF"].(Name); ok {
			cf, err := getCryptFilter(obj, CF)
			if err != nil {
				return res, wrap(err, "StrF")
			}
			res.strF = cf
		}
		res.efF = res.stmF
		if obj, ok := enc["EFF"].(Name); ok {
			cf, err := getCryptFilter(obj, CF)
			if err != nil {
				return res, wrap(err, "EFF")
			}
			res.efF = cf
		}
		if V == 4 {
			res.keyBytes = 16
		} else {
			res.keyBytes = 32
		}
	default:
		return res, fmt.Errorf("unsupported encryption algorithm /V %d", V)
	}
	res.filtersKnown = true

	if filter != "Standard" {
		return res, fmt.Errorf("unsupported security handler %q", filter)
	}
	sec, err := openStdSecHandler(enc, res.keyBytes, ID)
	if err != nil {
		return res, wrap(err, "standard security handler")
	}
	res.sec = sec

	return res, nil
}

// decryptBytes decrypts buf using Algorithm 1 of ISO 32000.  The data in
// buf is not modified.  If cf is nil, the data is not encrypted and buf is
// returned unchanged.
func (enc *encryptInfo) decryptBytes(cf *cryptFilter, ref Reference, buf []byte) ([]byte, error) {
	if cf == nil {
		return buf, nil
	}

	key, err := enc.sec.keyForRef(cf, ref)
	if err != nil {
		return nil, err
	}
	switch cf.Cipher {
	case cipherAES:
		if len(buf) == 0 {
			return buf, nil
		}
		if len(buf)%16 != 0 || len(buf) < 16 {
			return nil, errCorrupted
		}
		c, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(buf)-16)
		cbc := cipher.NewCBCDecrypter(c, buf[:16])
		cbc.CryptBlocks(out, buf[16:])

		if len(out) > 0 {
			nPad := int(out[len(out)-1])
			if nPad >= 1 && nPad <= 16 && nPad <= len(out) {
				out = out[:len(out)-nPad]
			}
		}
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

// The stdSecHandler authenticates the user via a pair of passwords.
// The "user password" is used to access the contents of the document, the
// "owner password" can be used to control additional permissions, e.g.
// permission to print the document.
//
// This represents the PDF standard security handler, which is specified in
// section 7.6.3 of PDF 32000-1:2008.
type stdSecHandler struct {
	// R specified the revision of the standard security handler used.
	R int

	// ID is the original PDF document ID, i.e. the first element of the ID
	// array in the trailer dictionary.
	ID []byte

	// O is a byte string, based on the owner password, that is used in
	// computing the file encryption key and in determining whether a valid
	// owner password was entered.
	O []byte

	// U is a byte string, based on the owner and user password, that is used
	// in determining whether to prompt the user for a password and, if so,
	// whether a valid user or owner password was entered.
	U []byte

	OE    []byte
	UE    []byte
	Perms []byte

	// P is a set of flags specifying which operations shall be permitted when
	// the document is opened with user access.
	P uint32

	keyBytes int
	key      []byte

	// unencryptedMetaData specifies whether document-level XMP metadata
	// streams are encrypted.
	//
	// We use the negation of /EncryptMetadata from ISO 32000, so that
	// the Go default value (unencryptedMetaData==false) corresponds to the
	// PDF default value (/EncryptMetadata true).
	unencryptedMetaData bool

	ownerAuthenticated bool
}

// openStdSecHandler creates a new stdSecHandler from the encryption
// dictionary and the document ID.
func openStdSecHandler(enc Dict, keyBytes int, ID []byte) (*stdSecHandler, error) {
	R, ok := enc["R"].(Integer)
	if !ok || R < 2 || R == 5 || R > 6 {
		return nil, errors.New("invalid Encrypt.R")
	}
	ouLength := 32
	if R == 6 {
		ouLength = 48
	}

	// Some writers append zero bytes to O and U.
	O, ok := enc["O"].(String)
	if !ok || len(O) < ouLength {
		return nil, errors.New("invalid Encrypt.O")
	}
	U, ok := enc["U"].(String)
	if !ok || len(U) < ouLength {
		return nil, errors.New("invalid Encrypt.U")
	}

	P, ok := enc["P"].(Integer)
	if !ok {
		return nil, errors.New("invalid Encrypt.P")
	}

	V, _ := enc["V"].(Integer)
	emd := true
	if obj, ok := enc["EncryptMetadata"].(Bool); ok && V >= 4 {
		emd = bool(obj)
	}

	sec := &stdSecHandler{
		ID:       ID,
		keyBytes: keyBytes,

		R: int(R),
		O: []byte(O[:ouLength]),
		U: []byte(U[:ouLength]),
		P: uint32(P),

		unencryptedMetaData: !emd,
	}

	if R == 6 {
		OE, ok := enc["OE"].(String)
		if !ok || len(OE) != 32 {
			return nil, errors.New("invalid Encrypt.OE")
		}
		sec.OE = []byte(OE)

		UE, ok := enc["UE"].(String)
		if !ok || len(UE) != 32 {
			return nil, errors.New("invalid Encrypt.UE")
		}
		sec.UE = []byte(UE)

		Perms, ok := enc["Perms"].(String)
		if !ok || len(Perms) != 16 {
			return nil, errors.New("invalid Encrypt.Perms")
		}
		sec.Perms = []byte(Perms)
	}

	return sec, nil
}

func (sec *stdSecHandler) keyForRef(cf *cryptFilter, ref Reference) ([]byte, error) {
	key := sec.key
	if key == nil {
		return nil, &AuthenticationError{sec.ID}
	}
	switch sec.R {
	case 2, 3, 4:
		h := md5.New()
		h.Write(key)
		num := ref.Number()
		gen := ref.Generation()
		h.Write([]byte{
			byte(num), byte(num >> 8), byte(num >> 16),
			byte(gen), byte(gen >> 8)})
		if cf.Cipher == cipherAES {
			h.Write([]byte("sAlT"))
		}
		l := min(sec.keyBytes+5, 16)
		return h.Sum(nil)[:l], nil
	case 6:
		return key, nil
	default:
		panic("invalid R")
	}
}

// authenticate tries to find the file encryption key.  The empty password
// is tried first, followed by the given passwords and finally by the
// passwords returned by readPwd.  For each password, authentication as the
// owner is attempted before authentication as the user.
func (sec *stdSecHandler) authenticate(passwords []string, readPwd ReadPwdFunc) ([]byte, error) {
	if sec.key != nil {
		return sec.key, nil
	}

	if sec.tryPassword("") {
		return sec.key, nil
	}
	for _, passwd := range passwords {
		if passwd != "" && sec.tryPassword(passwd) {
			return sec.key, nil
		}
	}
	if readPwd != nil {
		for try := 0; ; try++ {
			passwd := readPwd(sec.ID, try)
			if passwd == "" {
				break
			}
			if sec.tryPassword(passwd) {
				return sec.key, nil
			}
		}
	}
	return nil, &AuthenticationError{sec.ID}
}

// tryPassword checks whether passwd is the owner or user password.  On
// success, the file encryption key is stored in sec.key.
func (sec *stdSecHandler) tryPassword(passwd string) bool {
	if sec.R < 6 {
		padded, err := padPasswd(passwd)
		if err != nil {
			return false
		}
		return sec.authenticateOwner(padded) == nil ||
			sec.authenticateUser(padded) == nil
	}

	prepared, err := utf8Passwd(passwd)
	if err != nil {
		return false
	}
	return sec.authenticateOwner6(prepared) == nil ||
		sec.authenticateUser6(prepared) == nil
}

// Algorithm 2: compute the file encryption key for R <= 4.
// pw must be the padded password.
func (sec *stdSecHandler) computeFileEncyptionKey(paddedUserPwd []byte) []byte {
	h := md5.New()
	h.Write(paddedUserPwd)
	h.Write(sec.O)
	h.Write([]byte{
		byte(sec.P), byte(sec.P >> 8), byte(sec.P >> 16), byte(sec.P >> 24)})
	h.Write(sec.ID)
	if sec.unencryptedMetaData && sec.R >= 4 {
		h.Write([]byte{255, 255, 255, 255})
	}
	key := h.Sum(nil)

	if sec.R >= 3 {
		for range 50 {
			h.Reset()
			h.Write(key[:sec.keyBytes])
			key = h.Sum(key[:0])
		}
	}

	return key[:sec.keyBytes]
}

// Algorithm 2.B: Computing a hash (revision 6 and later)
func slowHash(passwd, salt, U []byte) []byte {
	h := sha256.New()
	h.Write(passwd)
	h.Write(salt)
	h.Write(U)
	K := h.Sum(nil)

	K1 := make([]byte, 64*(len(passwd)+64+len(U)))

	// Rounds continue after round 63 until the last byte of E is at most
	// round-32.
	for i := 0; i < 64 || K1[len(K1)-1] > byte(i-32); i++ {
		K1 = K1[:0]
		for range 64 {
			K1 = append(K1, passwd...)
			K1 = append(K1, K...)
			K1 = append(K1, U...)
		}

		// E = AES-128-CBC(K1), key K[:16], IV K[16:32].
		// The length of K1 is a multiple of 64, so no padding is needed.
		c, _ := aes.NewCipher(K[:16])
		cbc := cipher.NewCBCEncrypter(c, K[16:32])
		cbc.CryptBlocks(K1, K1)

		// The first 16 bytes of E, as a big-endian integer, modulo 3.
		// Since 256%3 == 1, this equals the sum of the bytes modulo 3.
		var rem int
		for _, b := range K1[:16] {
			rem += int(b)
		}
		rem %= 3

		var h hash.Hash
		switch rem {
		case 0:
			h = sha256.New()
		case 1:
			h = sha512.New384()
		case 2:
			h = sha512.New()
		}
		h.Write(K1)
		K = h.Sum(K[:0])
	}

	return K[:32]
}

// Algorithm 4/5: compute U.
func (sec *stdSecHandler) computeU(fileEncyptionKey []byte) []byte {
	U := make([]byte, 32)
	switch sec.R {
	case 2:
		c, _ := rc4.NewCipher(fileEncyptionKey)
		c.XORKeyStream(U, passwdPad)
	case 3, 4:
		h := md5.New()
		h.Write(passwdPad)
		h.Write(sec.ID)
		U = h.Sum(U[:0])
		c, _ := rc4.NewCipher(fileEncyptionKey)
		c.XORKeyStream(U, U)

		tmpKey := make([]byte, len(fileEncyptionKey))
		for i := byte(1); i <= 19; i++ {
			for j := range tmpKey {
				tmpKey[j] = fileEncyptionKey[j] ^ i
			}
			c, _ = rc4.NewCipher(tmpKey)
			c.XORKeyStream(U, U)
		}
		// This gives the first 16 bytes of U, the remaining 16 bytes
		// are "arbitrary padding".
		U = append(U[:16], zero16...)
	default:
		panic("invalid security handler revision")
	}

	return U
}

// Algorithm 6: Authenticating the user password (Security handlers of revision 4 and earlier)
func (sec *stdSecHandler) authenticateUser(paddedUserPwd []byte) error {
	key := sec.computeFileEncyptionKey(paddedUserPwd)
	U := sec.computeU(key)
	switch sec.R {
	case 2:
		if bytes.Equal(U, sec.U) {
			sec.key = key
			return nil
		}
	case 3, 4:
		if bytes.Equal(U[:16], sec.U[:16]) {
			sec.key = key
			return nil
		}
	default:
		panic("invalid security handler revision")
	}
	return &AuthenticationError{sec.ID}
}

// ownerKey computes the RC4 key used to encrypt the O entry, for R <= 4.
func (sec *stdSecHandler) ownerKey(paddedOwnerPwd []byte) []byte {
	h := md5.New()
	h.Write(paddedOwnerPwd)
	sum := h.Sum(nil)
	if sec.R >= 3 {
		for range 50 {
			h.Reset()
			// ISO 32000 does not mention the truncation, but this seems to be
			// required anyway.
			h.Write(sum[:sec.keyBytes])
			sum = h.Sum(sum[:0])
		}
	}
	return sum[:sec.keyBytes]
}

// Algorithm 7: Authenticating the owner password (Security handlers of revision 4 and earlier)
func (sec *stdSecHandler) authenticateOwner(paddedOwnerPwd []byte) error {
	key := sec.ownerKey(paddedOwnerPwd)

	buf := make([]byte, 32)
	copy(buf, sec.O)
	switch sec.R {
	case 2:
		c, _ := rc4.NewCipher(key)
		c.XORKeyStream(buf, buf)
	case 3, 4:
		tmpKey := make([]byte, len(key))
		for i := 19; i >= 0; i-- {
			for j := range tmpKey {
				tmpKey[j] = key[j] ^ byte(i)
			}
			c, _ := rc4.NewCipher(tmpKey)
			c.XORKeyStream(buf, buf)
		}
	}

	err := sec.authenticateUser(buf)
	if err != nil {
		return err
	}
	sec.ownerAuthenticated = true
	return nil
}

// Algorithm 11: Authenticating the user password (Security handlers of revision 6)
func (sec *stdSecHandler) authenticateUser6(utf8Passwd []byte) error {
	hash := slowHash(utf8Passwd, sec.U[32:40], nil)
	if !bytes.Equal(hash, sec.U[:32]) {
		return &AuthenticationError{sec.ID}
	}

	key := slowHash(utf8Passwd, sec.U[40:48], nil) // user key salt
	c, _ := aes.NewCipher(key)
	cbc := cipher.NewCBCDecrypter(c, zero16)
	fileEncryptionKey := make([]byte, 32)
	cbc.CryptBlocks(fileEncryptionKey, sec.UE)

	err := sec.checkPerms(fileEncryptionKey)
	if err != nil {
		return err
	}

	sec.key = fileEncryptionKey
	return nil
}

// Algorithm 12: Authenticating the owner password (Security handlers of revision 6)
func (sec *stdSecHandler) authenticateOwner6(utf8Passwd []byte) error {
	hash := slowHash(utf8Passwd, sec.O[32:40], sec.U)
	if !bytes.Equal(hash, sec.O[:32]) {
		return &AuthenticationError{sec.ID}
	}

	key := slowHash(utf8Passwd, sec.O[40:48], sec.U) // owner key salt
	c, _ := aes.NewCipher(key)
	cbc := cipher.NewCBCDecrypter(c, zero16)
	fileEncryptionKey := make([]byte, 32)
	cbc.CryptBlocks(fileEncryptionKey, sec.OE)

	err := sec.checkPerms(fileEncryptionKey)
	if err != nil {
		return err
	}

	sec.key = fileEncryptionKey
	sec.ownerAuthenticated = true
	return nil
}

func (sec *stdSecHandler) checkPerms(fileEncryptionKey []byte) error {
	buf := make([]byte, 16)

	c, _ := aes.NewCipher(fileEncryptionKey)
	c.Decrypt(buf, sec.Perms)
	if !bytes.Equal(buf[9:12], []byte{'a', 'd', 'b'}) {
		return &AuthenticationError{sec.ID}
	}
	perms := binary.LittleEndian.Uint32(buf[:4])
	if perms != sec.P {
		return &AuthenticationError{sec.ID}
	}

	var emdCode byte
	if sec.unencryptedMetaData {
		emdCode = 'F'
	} else {
		emdCode = 'T'
	}
	if buf[8] != emdCode {
		return &AuthenticationError{sec.ID}
	}

	return nil
}

func utf8Passwd(passwd string) ([]byte, error) {
	prepped, err := stringprep.SASLprep.Prepare(passwd)
	if err != nil {
		return nil, errInvalidPassword
	}
	buf := []byte(prepped)
	if len(buf) > 127 {
		buf = buf[:127]
	}
	return buf, nil
}

// padPasswd converts a password to PDFDocEncoding and pads it to 32 bytes.
func padPasswd(passwd string) ([]byte, error) {
	buf, ok := pdfDocEncode(passwd)
	if !ok {
		return nil, errInvalidPassword
	}

	padded := make([]byte, 32)
	n := copy(padded, buf)
	copy(padded[n:], passwdPad)

	return padded, nil
}

// pdfDocEncode converts s to PDFDocEncoding.  The string is first brought
// into Unicode normalisation form C, so that accented characters have a
// chance of being representable.
func pdfDocEncode(s string) ([]byte, bool) {
	s = norm.NFC.String(s)
	res := make([]byte, 0, len(s))
	for _, r := range s {
		switch {
		case r < 0x18 || r >= 0x20 && r < 0x7F || r >= 0xA1 && r <= 0xFF && r != 0xAD:
			res = append(res, byte(r))
		default:
			c, ok := pdfDocHigh[r]
			if !ok {
				return nil, false
			}
			res = append(res, c)
		}
	}
	return res, true
}

// pdfDocHigh lists the characters where PDFDocEncoding differs from
// ISO Latin 1.
var pdfDocHigh = map[rune]byte{
	'˘': 0x18, 'ˇ': 0x19, 'ˆ': 0x1A, '˙': 0x1B,
	'˝': 0x1C, '˛': 0x1D, '˚': 0x1E, '˜': 0x1F,
	'•': 0x80, '†': 0x81, '‡': 0x82, '…': 0x83,
	'—': 0x84, '–': 0x85, 'ƒ': 0x86, '⁄': 0x87,
	'‹': 0x88, '›': 0x89, '−': 0x8A, '‰': 0x8B,
	'„': 0x8C, '“': 0x8D, '”': 0x8E, '‘': 0x8F,
	'’': 0x90, '‚': 0x91, '™': 0x92, 'ﬁ': 0x93,
	'ﬂ': 0x94, 'Ł': 0x95, 'Œ': 0x96, 'Š': 0x97,
	'Ÿ': 0x98, 'Ž': 0x99, 'ı': 0x9A, 'ł': 0x9B,
	'œ': 0x9C, 'š': 0x9D, 'ž': 0x9E, '€': 0xA0,
}

var passwdPad = []byte{
	0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41,
	0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
	0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80,
	0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
}

var zero16 = []byte{
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

type cryptFilter struct {
	Cipher cipherType

	// Length is the key length in bits.
	Length int
}

func (cf *cryptFilter) String() string {
	return fmt.Sprintf("%s-%d", cf.Cipher, cf.Length)
}

// getCryptFilter returns the crypt filter with the given name.  The
// Identity filter is represented by nil.
func getCryptFilter(cryptFilterName Name, CF Dict) (*cryptFilter, error) {
	if cryptFilterName == "Identity" {
		return nil, nil
	}
	cfDict, ok := CF[cryptFilterName].(Dict)
	if !ok {
		return nil, errors.New("missing " + string(cryptFilterName) + " entry in CF dict")
	}

	res := &cryptFilter{}
	switch cfDict["CFM"] {
	case Name("None"), nil:
		return nil, nil
	case Name("V2"):
		res.Cipher = cipherRC4
		res.Length = 128
		if l, ok := cfDict["Length"].(Integer); ok {
			// Some writers give the length in bytes.
			if l <= 16 {
				l *= 8
			}
			if l >= 40 && l <= 128 && l%8 == 0 {
				res.Length = int(l)
			}
		}
	case Name("AESV2"):
		res.Cipher = cipherAES
		res.Length = 128
	case Name("AESV3"):
		res.Cipher = cipherAES
		res.Length = 256
	default:
		return nil, fmt.Errorf("unknown crypt filter method %s", Format(cfDict["CFM"]))
	}
	return res, nil
}

// cipherType denotes the type of encryption used in (parts of) a PDF file.
type cipherType int

const (
	// cipherUnknown indicates that the encryption scheme has not yet been
	// determined.
	cipherUnknown cipherType = iota

	// cipherRC4 indicates that RC4 encryption is used.  This corresponds to
	// the StdCF crypt filter with a CFM value of V2 in ISO 32000.
	cipherRC4

	// cipherAES indicates that AES encryption in CBC mode is used.  This
	// corresponds to the StdCF crypt filter with a CFM value of AESV2 or
	// AESV3.
	cipherAES
)

func (c cipherType) String() string {
	switch c {
	case cipherUnknown:
		return "unknown"
	case cipherRC4:
		return "RC4"
	case cipherAES:
		return "AES"
	default:
		return fmt.Sprintf("cipher#%d", c)
	}
}
