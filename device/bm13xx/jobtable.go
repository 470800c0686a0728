package bm13xx

import (
	"sync"
	"time"

	"asic_miner/job"
	"asic_miner/log"
)

const (
	jobIDStep = 8
	jobIDMax  = 128 - jobIDStep
)

type slot struct {
	job    *job.Job
	sentAt time.Time
}

// JobTable maps the 7-bit chip job id back to the Job it was issued for.
// Ids advance by 8 and wrap, so the newest 16 jobs stay resolvable.
type JobTable struct {
	mx       sync.Mutex
	ID       uint8
	IDMin    uint8
	IDMax    uint8
	jobs     map[uint8]slot
	staleTTL time.Duration
	nTotal   int
}

func NewJobTable() *JobTable {
	return &JobTable{
		IDMin:    0,
		IDMax:    jobIDMax,
		jobs:     make(map[uint8]slot),
		staleTTL: 2 * time.Minute,
	}
}

func (my *JobTable) nextID() uint8 {
	if my.ID < my.IDMin || my.ID > my.IDMax {
		my.ID = my.IDMin
	}
	id := my.ID
	my.ID += jobIDStep
	return id
}

// Add issues the next id for j. The slot's previous job is dropped.
func (my *JobTable) Add(j *job.Job) uint8 {
	my.mx.Lock()
	defer my.mx.Unlock()

	id := my.nextID()
	if old, ok := my.jobs[id]; ok {
		log.Debugf("job id %d reused, dropping %s", id, old.job.TraceID)
	}
	my.jobs[id] = slot{job: j, sentAt: time.Now()}
	my.nTotal++
	return id
}

func (my *JobTable) Find(id uint8) *job.Job {
	my.mx.Lock()
	defer my.mx.Unlock()

	if s, ok := my.jobs[id&0xf8]; ok {
		return s.job
	}
	return nil
}

func (my *JobTable) RemoveStale(now time.Time) int {
	my.mx.Lock()
	defer my.mx.Unlock()

	n := 0
	for id, s := range my.jobs {
		if now.Sub(s.sentAt) > my.staleTTL {
			delete(my.jobs, id)
			n++
		}
	}
	return n
}

func (my *JobTable) Clear() int {
	my.mx.Lock()
	defer my.mx.Unlock()

	n := len(my.jobs)
	my.jobs = make(map[uint8]slot)
	return n
}

func (my *JobTable) Len() int {
	my.mx.Lock()
	defer my.mx.Unlock()
	return len(my.jobs)
}

func (my *JobTable) Total() int {
	my.mx.Lock()
	defer my.mx.Unlock()
	return my.nTotal
}
