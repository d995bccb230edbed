// Copyright 2025 The go-rpckit Authors
// This file is part of the go-rpckit library.
//
// The go-rpckit library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-rpckit library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-rpckit library. If not, see <http://www.gnu.org/licenses/>.

package rpc

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// IDGenerator produces correlation ids for two-way requests. Generators must be
// safe for concurrent use and must not repeat a value while a request carrying
// it may still be awaiting its reply.
type IDGenerator func() ID

// SequentialIDs returns a generator emitting start, start+1, ... as int64.
// It is the default generator of all protocols, starting at 1.
//
// SequentialIDs 返回一个从 start 开始单调递增的整数 id 生成器。
func SequentialIDs(start int64) IDGenerator {
	var next atomic.Int64
	next.Store(start)
	return func() ID {
		return next.Add(1) - 1
	}
}

// HexIDs returns a generator emitting an increasing counter in hexadecimal
// notation ("1", "2", ... "a", "b").
func HexIDs(start int64) IDGenerator {
	seq := SequentialIDs(start)
	return func() ID {
		return strconv.FormatInt(seq().(int64), 16)
	}
}

const (
	randomIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

	// minRandomIDLength keeps the chance that two outstanding requests share
	// an id negligible (36^8 ~ 2.8e12 values).
	minRandomIDLength     = 8
	defaultRandomIDLength = 16
)

// RandomIDs returns a generator of random strings of the given length drawn
// from [0-9a-z]. A length of zero selects 16. Lengths below 8 panic because
// collisions between in-flight requests would become likely.
func RandomIDs(length int) IDGenerator {
	if length == 0 {
		length = defaultRandomIDLength
	}
	if length < minRandomIDLength {
		panic(fmt.Sprintf("rpc: random id length %d is below the minimum of %d", length, minRandomIDLength))
	}
	var (
		buf  = make([]byte, 8)
		seed int64
	)
	if _, err := crand.Read(buf); err == nil {
		seed = int64(binary.BigEndian.Uint64(buf))
	} else {
		seed = time.Now().UnixNano()
	}
	var (
		mu  sync.Mutex
		rng = rand.New(rand.NewSource(seed))
	)
	return func() ID {
		id := make([]byte, length)
		mu.Lock()
		for i := range id {
			id[i] = randomIDAlphabet[rng.Intn(len(randomIDAlphabet))]
		}
		mu.Unlock()
		return string(id)
	}
}

// UUIDs returns a generator of random (version 4) UUID strings.
func UUIDs() IDGenerator {
	return func() ID {
		return uuid.NewString()
	}
}
