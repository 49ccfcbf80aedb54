// Command board-loadtest opens many board streams, drives a steady command
// load and checks that every stream converges on the authority's final state.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"taskboard/board-api/api"
	"taskboard/board-api/domain"
	"taskboard/board-client/transport"
)

// counter tracks one stream's view of the board.
type counter struct {
	connects  *atomic.Uint64
	snapshots *atomic.Uint64

	mu   sync.Mutex
	last []domain.Task
}

func (c *counter) Connected(string) { c.connects.Add(1) }
func (c *counter) Disconnected()    {}
func (c *counter) Snapshot(tasks []domain.Task) {
	c.snapshots.Add(1)
	c.mu.Lock()
	c.last = tasks
	c.mu.Unlock()
}

func (c *counter) Last() []domain.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func main() {
	_ = godotenv.Load()

	endpoint := api.EnvString("BOARD_ENDPOINT", "http://localhost:5001")
	conns := api.EnvInt("SSE_CONNECTIONS", 200)
	duration := api.EnvDur("DURATION", 2*time.Minute)
	rate := api.EnvInt("COMMANDS_PER_SEC", 20)
	settle := api.EnvDur("SETTLE", 3*time.Second)

	logger := log.New()
	logger.SetLevel(log.WarnLevel)
	if api.EnvBool("DEBUG", false) {
		logger.SetLevel(log.DebugLevel)
	}

	var connects, snapshots, sent, sendFailures atomic.Uint64

	streamCtx, stopStreams := context.WithCancel(context.Background())
	defer stopStreams()

	client := &http.Client{}
	counters := make([]*counter, conns)
	var wg sync.WaitGroup
	for i := range counters {
		c := &counter{connects: &connects, snapshots: &snapshots}
		counters[i] = c
		s := transport.NewStream(endpoint, client, c, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Run(streamCtx)
		}()
	}

	loadCtx, stopLoad := context.WithTimeout(context.Background(), duration)
	defer stopLoad()
	sender := transport.NewSender(endpoint, nil, nil, logger)
	drive(loadCtx, sender, rate, &sent, &sendFailures)

	time.Sleep(settle)
	want, err := fetchTasks(endpoint)
	if err != nil {
		logger.Fatalf("fetch final tasks: %v", err)
	}
	stopStreams()
	wg.Wait()

	var diverged int
	for _, c := range counters {
		if !sameTasks(c.Last(), want) {
			diverged++
		}
	}

	fmt.Printf("connections=%d duration=%s commands_sent=%d send_failures=%d stream_connects=%d snapshots_received=%d final_tasks=%d diverged=%d\n",
		conns, duration, sent.Load(), sendFailures.Load(), connects.Load(), snapshots.Load(), len(want), diverged)

	failureRate := 0.0
	if n := sent.Load() + sendFailures.Load(); n > 0 {
		failureRate = float64(sendFailures.Load()) / float64(n)
	}
	if snapshots.Load() == 0 || diverged > 0 || failureRate > 0.01 {
		os.Exit(1)
	}
}

// drive sends a create, move or delete cycle at rate commands per second.
func drive(ctx context.Context, sender *transport.Sender, rate int, sent, failures *atomic.Uint64) {
	if rate <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	var n int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n++
		var cmd domain.Command
		switch id := strconv.Itoa(n / 3); n % 3 {
		case 0:
			title := fmt.Sprintf("load %d", n)
			cmd = domain.CreateTask{Title: &title}
		case 1:
			cmd = domain.MoveTask{ID: id, Status: domain.Statuses[n%len(domain.Statuses)]}
		default:
			cmd = domain.DeleteTask{ID: strconv.Itoa(n / 6)}
		}
		if err := sender.Send(ctx, cmd); err != nil {
			if ctx.Err() != nil {
				return
			}
			failures.Add(1)
			continue
		}
		sent.Add(1)
	}
}

func fetchTasks(endpoint string) ([]domain.Task, error) {
	resp, err := http.Get(endpoint + domain.TasksPath)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	var tasks []domain.Task
	if err := sonic.ConfigStd.NewDecoder(resp.Body).Decode(&tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func sameTasks(a, b []domain.Task) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Status != b[i].Status || a[i].Title != b[i].Title {
			return false
		}
	}
	return true
}
