/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package transport

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSendQueueEnqueuePeekDiscard(t *testing.T) {
	q := newSendQueue()
	defer q.release()

	assert.Equal(t, nil, q.enqueue([]int{7, 8}, []byte("head"), []byte("tail")))
	nb, nf := q.pending()
	assert.Equal(t, 8, nb)
	assert.Equal(t, 2, nf)

	b, fds := q.peek(6)
	assert.Equal(t, []byte("headta"), b)
	assert.Equal(t, []int{7, 8}, fds)

	// peek must not consume
	nb, nf = q.pending()
	assert.Equal(t, 8, nb)
	assert.Equal(t, 2, nf)

	q.discard(6, 2)
	b, fds = q.peek(100)
	assert.Equal(t, []byte("il"), b)
	assert.Equal(t, 0, len(fds))

	q.discard(2, 0)
	nb, nf = q.pending()
	assert.Equal(t, 0, nb)
	assert.Equal(t, 0, nf)
}

func TestSendQueueDiscardOutOfRange(t *testing.T) {
	q := newSendQueue()
	defer q.release()
	assert.Equal(t, nil, q.enqueue(nil, []byte("abc")))
	assert.Panics(t, func() { q.discard(4, 0) })
}

func TestSendQueueStop(t *testing.T) {
	q := newSendQueue()
	defer q.release()

	waited := make(chan waitResult, 1)
	go func() { waited <- q.blockUntilReadyOrStopped() }()

	time.Sleep(10 * time.Millisecond)
	q.stop()
	select {
	case r := <-waited:
		assert.Equal(t, waitStopped, r)
	case <-time.After(time.Second):
		t.Fatal("stop did not wake the waiter")
	}

	assert.Equal(t, ErrQueueStopped, q.enqueue(nil, []byte("x")))
	// stop is idempotent
	q.stop()
}

func TestSendQueueWakesOnEnqueue(t *testing.T) {
	q := newSendQueue()
	defer q.release()

	waited := make(chan waitResult, 1)
	go func() { waited <- q.blockUntilReadyOrStopped() }()

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, nil, q.enqueue(nil, []byte("data")))
	select {
	case r := <-waited:
		assert.Equal(t, waitData, r)
	case <-time.After(time.Second):
		t.Fatal("enqueue did not wake the waiter")
	}
}

func TestSendQueueEnqueueNeverBlocks(t *testing.T) {
	// No consumer at all: every enqueue must still return promptly.
	q := newSendQueue()
	defer q.release()

	start := time.Now()
	for i := 0; i < 1000; i++ {
		assert.Equal(t, nil, q.enqueue([]int{i}, make([]byte, 4096)))
	}
	assert.Less(t, time.Since(start), 2*time.Second)
	nb, nf := q.pending()
	assert.Equal(t, 1000*4096, nb)
	assert.Equal(t, 1000, nf)
}

func TestSendQueueMultiProducer(t *testing.T) {
	fmt.Println("-----------test send queue multi-producer ----------------")
	q := newSendQueue()
	defer q.release()

	const producers = 50
	const perProducer = 200
	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < perProducer; k++ {
				if err := q.enqueue([]int{1}, []byte("abcd")); err != nil {
					panic(err)
				}
			}
		}()
	}
	wg.Wait()

	nb, nf := q.pending()
	assert.Equal(t, producers*perProducer*4, nb)
	assert.Equal(t, producers*perProducer, nf)
}
