package domain

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ToBuffer implements the wire format from spec.md §6:
//
//	publicKey(64B) ‖ vector(note) ‖ contractAddress(32B) ‖ storageSlot(32B) ‖
//	txHash(32B) ‖ txNullifier(32B) ‖ u32(len) ‖ len×commitment(32B) ‖ u32(dataStartIndexForTx)
//
// "note" is itself a length-prefixed Vector (see GLOSSARY), since its size
// varies by note type and the format otherwise gives it none.
func (d *DeferredNoteDao) ToBuffer() []byte {
	buf := new(bytes.Buffer)
	buf.Write(d.PublicKey[:])

	writeVector(buf, d.Note)

	buf.Write(d.ContractAddress[:])
	buf.Write(d.StorageSlot[:])
	buf.Write(d.TxHash[:])
	buf.Write(d.TxNullifier[:])

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(d.NewCommitments)))
	buf.Write(lenBuf[:])
	for _, c := range d.NewCommitments {
		buf.Write(c[:])
	}

	binary.BigEndian.PutUint32(lenBuf[:], uint32(d.DataStartIndexForTx))
	buf.Write(lenBuf[:])

	return buf.Bytes()
}

// DeferredNoteDaoFromBuffer parses the format written by ToBuffer. fromBuffer(toBuffer(d)) == d.
func DeferredNoteDaoFromBuffer(data []byte) (*DeferredNoteDao, error) {
	r := bytes.NewReader(data)
	d := new(DeferredNoteDao)

	if err := readFull(r, d.PublicKey[:]); err != nil {
		return nil, fmt.Errorf("public key: %w", err)
	}

	note, err := readVector(r)
	if err != nil {
		return nil, fmt.Errorf("note: %w", err)
	}
	d.Note = note

	if err := readFull(r, d.ContractAddress[:]); err != nil {
		return nil, fmt.Errorf("contract address: %w", err)
	}
	if err := readFull(r, d.StorageSlot[:]); err != nil {
		return nil, fmt.Errorf("storage slot: %w", err)
	}
	if err := readFull(r, d.TxHash[:]); err != nil {
		return nil, fmt.Errorf("tx hash: %w", err)
	}
	if err := readFull(r, d.TxNullifier[:]); err != nil {
		return nil, fmt.Errorf("tx nullifier: %w", err)
	}

	var numCommitments uint32
	if err := binary.Read(r, binary.BigEndian, &numCommitments); err != nil {
		return nil, fmt.Errorf("num commitments: %w", err)
	}
	d.NewCommitments = make([][32]byte, numCommitments)
	for i := range d.NewCommitments {
		if err := readFull(r, d.NewCommitments[i][:]); err != nil {
			return nil, fmt.Errorf("commitment %d: %w", i, err)
		}
	}

	var dataStartIndex uint32
	if err := binary.Read(r, binary.BigEndian, &dataStartIndex); err != nil {
		return nil, fmt.Errorf("data start index: %w", err)
	}
	d.DataStartIndexForTx = uint64(dataStartIndex)

	return d, nil
}

func writeVector(buf *bytes.Buffer, data []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	buf.Write(lenBuf[:])
	buf.Write(data)
}

func readVector(r *bytes.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	data := make([]byte, length)
	if err := readFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

func readFull(r *bytes.Reader, dst []byte) error {
	n, err := r.Read(dst)
	if err != nil {
		return err
	}
	if n != len(dst) {
		return fmt.Errorf("short read: got %d, want %d", n, len(dst))
	}
	return nil
}
