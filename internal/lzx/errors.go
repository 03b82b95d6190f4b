package lzx

import "errors"

var (
	ErrBadWindow   = errors.New("lzx: window size must be a power of two between 32 KiB and 2 MiB")
	ErrIllegalData = errors.New("lzx: illegal compressed data")
	ErrBadHuffman  = errors.New("lzx: invalid huffman code lengths")
	ErrBadSymbol   = errors.New("lzx: invalid huffman code")
	ErrBadOffset   = errors.New("lzx: match offset exceeds window fill")
	ErrTruncated   = errors.New("lzx: truncated input")
	ErrBadRange    = errors.New("lzx: requested range outside stream")
)
