package service

import (
	"context"
	"sync"
	"time"
)

// Sweeper 在独立的定时器上运行空闲房间回收与工单过期清理。
type Sweeper struct {
	rooms       *RoomService
	tickets     *TicketService
	roomEvery   time.Duration
	ticketEvery time.Duration
	wg          sync.WaitGroup
}

func NewSweeper(rooms *RoomService, tickets *TicketService, roomEvery, ticketEvery time.Duration) *Sweeper {
	return &Sweeper{rooms: rooms, tickets: tickets, roomEvery: roomEvery, ticketEvery: ticketEvery}
}

// Start 启动两个后台循环，ctx 取消后退出；Wait 等待它们结束。
func (s *Sweeper) Start(ctx context.Context) {
	s.loop(ctx, s.ticketEvery, func(ctx context.Context) { s.tickets.SweepExpired(ctx) })
	s.loop(ctx, s.roomEvery, func(ctx context.Context) { s.rooms.SweepIdle(ctx) })
}

func (s *Sweeper) Wait() { s.wg.Wait() }

func (s *Sweeper) loop(ctx context.Context, every time.Duration, sweep func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweep(ctx)
			}
		}
	}()
}
