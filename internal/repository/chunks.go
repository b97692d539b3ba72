package repository

import (
	"context"

	"github.com/memcontext/vault/internal/model"
)

// ReplaceChunks deletes any existing chunks for memoryID and inserts the
// given set, all inside the caller's unit-of-work. Per spec §5, callers
// must finish this before committing the row update so a reader never
// observes a partially-written chunk set.
func (u *UnitOfWork) ReplaceChunks(ctx context.Context, memoryID int64, chunks []model.MemoryChunk) error {
	if _, err := u.exec(ctx, `DELETE FROM memory_chunks WHERE memory_id=?`, memoryID); err != nil {
		return model.ErrTransient("replace_chunks_delete", err)
	}
	for _, c := range chunks {
		_, err := u.exec(ctx, `INSERT INTO memory_chunks
			(memory_id, chunk_index, chunk_data, compression_type, original_size, compressed_size,
			 compression_ratio, sha256_hash, whole_object_sha256)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			memoryID, c.ChunkIndex, c.ChunkData, string(c.CompressionType),
			c.Metadata.OriginalSize, c.Metadata.CompressedSize, c.Metadata.CompressionRatio,
			c.Metadata.SHA256Hash, nullStr(c.Metadata.WholeObjectSHA256))
		if err != nil {
			return model.ErrTransient("replace_chunks_insert", err)
		}
	}
	return nil
}

// FindChunksByMemory returns every chunk of memoryID in chunk_index order.
func (u *UnitOfWork) FindChunksByMemory(ctx context.Context, memoryID int64) ([]model.MemoryChunk, error) {
	rows, err := u.query(ctx, `SELECT id, memory_id, chunk_index, chunk_data, compression_type,
		original_size, compressed_size, compression_ratio, sha256_hash, whole_object_sha256
		FROM memory_chunks WHERE memory_id=? ORDER BY chunk_index ASC`, memoryID)
	if err != nil {
		return nil, model.ErrTransient("query_chunks", err)
	}
	defer rows.Close()

	var out []model.MemoryChunk
	for rows.Next() {
		var c model.MemoryChunk
		var compressionType string
		var wholeSHA *string
		if err := rows.Scan(&c.ID, &c.MemoryID, &c.ChunkIndex, &c.ChunkData, &compressionType,
			&c.Metadata.OriginalSize, &c.Metadata.CompressedSize, &c.Metadata.CompressionRatio,
			&c.Metadata.SHA256Hash, &wholeSHA); err != nil {
			return nil, model.ErrTransient("scan_chunk", err)
		}
		c.CompressionType = model.CompressionType(compressionType)
		if wholeSHA != nil {
			c.Metadata.WholeObjectSHA256 = *wholeSHA
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteChunks removes every chunk belonging to memoryID.
func (u *UnitOfWork) DeleteChunks(ctx context.Context, memoryID int64) error {
	if _, err := u.exec(ctx, `DELETE FROM memory_chunks WHERE memory_id=?`, memoryID); err != nil {
		return model.ErrTransient("delete_chunks", err)
	}
	return nil
}
