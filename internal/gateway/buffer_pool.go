// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package gateway

import (
	"bytes"
	"sync"
)

const (
	// CopyBufferSize WebSocket 双向复制使用的缓冲区大小
	CopyBufferSize = 32 * 1024

	// CaptureBufferSize 响应缓存捕获缓冲区的初始容量
	CaptureBufferSize = 8 * 1024

	// maxPooledCaptureSize 超过该容量的捕获缓冲区不归还，让 GC 处理
	maxPooledCaptureSize = 1 << 20
)

// copyBufPool WebSocket 数据流复制的缓冲区池
var copyBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, CopyBufferSize)
		return &b
	},
}

// captureBufPool 响应体捕获的缓冲区池
var captureBufPool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, CaptureBufferSize))
	},
}

// getCaptureBuffer 获取一个空的捕获缓冲区
func getCaptureBuffer() *bytes.Buffer {
	buf := captureBufPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// putCaptureBuffer 归还捕获缓冲区
func putCaptureBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxPooledCaptureSize {
		return
	}
	buf.Reset()
	captureBufPool.Put(buf)
}
