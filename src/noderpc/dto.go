package noderpc

import (
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/l2privacy/client-sync/src/domain"
)

// blockHeaderDTO carries hashes as 0x-prefixed hex strings, the same
// convention go-ethereum's RPC types use, decoded into fixed arrays with
// fixed32 below.
type blockHeaderDTO struct {
	NoteHashTreeRoot    hexutil.Bytes `json:"noteHashTreeRoot"`
	NullifierTreeRoot   hexutil.Bytes `json:"nullifierTreeRoot"`
	ContractTreeRoot    hexutil.Bytes `json:"contractTreeRoot"`
	L1ToL2TreeRoot      hexutil.Bytes `json:"l1ToL2TreeRoot"`
	ArchiveTreeRoot     hexutil.Bytes `json:"archiveTreeRoot"`
	PublicDataTreeRoot  hexutil.Bytes `json:"publicDataTreeRoot"`
	GlobalVariablesHash hexutil.Bytes `json:"globalVariablesHash"`
	BlockNumber         uint64        `json:"blockNumber"`
}

func fixed32(b []byte) [32]byte {
	var out [32]byte
	copy(out[:], b)
	return out
}

func (dto *blockHeaderDTO) toDomain() domain.BlockHeader {
	return domain.BlockHeader{
		BlockNumber:         dto.BlockNumber,
		NoteHashTreeRoot:    fixed32(dto.NoteHashTreeRoot),
		NullifierTreeRoot:   fixed32(dto.NullifierTreeRoot),
		ContractTreeRoot:    fixed32(dto.ContractTreeRoot),
		L1ToL2TreeRoot:      fixed32(dto.L1ToL2TreeRoot),
		ArchiveTreeRoot:     fixed32(dto.ArchiveTreeRoot),
		PublicDataTreeRoot:  fixed32(dto.PublicDataTreeRoot),
		GlobalVariablesHash: fixed32(dto.GlobalVariablesHash),
	}
}

type transactionDTO struct {
	TxHash         hexutil.Bytes   `json:"txHash"`
	NewCommitments []hexutil.Bytes `json:"newCommitments"`
	Nullifier      hexutil.Bytes   `json:"nullifier"`
}

func (dto *transactionDTO) toDomain() domain.Transaction {
	commitments := make([][32]byte, len(dto.NewCommitments))
	for i, c := range dto.NewCommitments {
		commitments[i] = fixed32(c)
	}
	return domain.Transaction{
		TxHash:         fixed32(dto.TxHash),
		NewCommitments: commitments,
		Nullifier:      fixed32(dto.Nullifier),
	}
}

type blockDTO struct {
	Number         uint64           `json:"number"`
	DataStartIndex uint64           `json:"dataStartIndex"`
	Transactions   []transactionDTO `json:"transactions"`
	Header         blockHeaderDTO   `json:"header"`
	Timestamp      int64            `json:"timestamp"`
}

func (dto *blockDTO) toDomain() domain.Block {
	txs := make([]domain.Transaction, len(dto.Transactions))
	for i, t := range dto.Transactions {
		txs[i] = t.toDomain()
	}
	return domain.Block{
		Number:         dto.Number,
		DataStartIndex: dto.DataStartIndex,
		Transactions:   txs,
		Header:         dto.Header.toDomain(),
		Timestamp:      time.Unix(dto.Timestamp, 0),
	}
}

type encryptedLogDTO struct {
	TxIndex      int           `json:"txIndex"`
	LogIndexInTx int           `json:"logIndexInTx"`
	Data         hexutil.Bytes `json:"data"`
}

type logBundleDTO struct {
	BlockNumber uint64            `json:"blockNumber"`
	Logs        []encryptedLogDTO `json:"logs"`
}

func (dto *logBundleDTO) toDomain() domain.EncryptedLogBundle {
	logs := make([]domain.EncryptedLog, len(dto.Logs))
	for i, l := range dto.Logs {
		logs[i] = domain.EncryptedLog{
			TxIndex:      l.TxIndex,
			LogIndexInTx: l.LogIndexInTx,
			Data:         l.Data,
		}
	}
	return domain.EncryptedLogBundle{
		BlockNumber: dto.BlockNumber,
		Logs:        logs,
	}
}
