package scheduler

import (
	"sort"

	"github.com/gogpu/rendergraph/deletion"
	"github.com/gogpu/rendergraph/errs"
	"github.com/gogpu/rendergraph/gpu"
	"github.com/gogpu/rendergraph/syncctx"
)

// preparedJob is one job after topological ordering, still referencing its
// original request.
type preparedJob struct {
	id      JobID
	request JobRequest
}

// batch is a maximal run of consecutive, same-queue-class prepared jobs
// submitted together in one queue.Submit/Submit2 call.
type batch struct {
	class QueueClass
	jobs  []preparedJob
}

// topologicalOrder performs Kahn's algorithm over jobs/deps, breaking ties
// by ascending JobID so two frames given the same jobs and dependencies
// always batch identically. Returns ValidationFailure if deps form a cycle.
func topologicalOrder(jobs []enqueuedJob, deps []dependencyEdge) ([]preparedJob, error) {
	indegree := make(map[JobID]int, len(jobs))
	adjacency := make(map[JobID][]JobID, len(jobs))
	byID := make(map[JobID]JobRequest, len(jobs))
	for _, j := range jobs {
		indegree[j.id] = 0
		byID[j.id] = j.request
	}
	for _, d := range deps {
		adjacency[d.producer] = append(adjacency[d.producer], d.consumer)
		indegree[d.consumer]++
	}

	var ready []JobID
	for _, j := range jobs {
		if indegree[j.id] == 0 {
			ready = append(ready, j.id)
		}
	}
	sort.Slice(ready, func(i, k int) bool { return ready[i] < ready[k] })

	ordered := make([]preparedJob, 0, len(jobs))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, k int) bool { return ready[i] < ready[k] })
		id := ready[0]
		ready = ready[1:]
		ordered = append(ordered, preparedJob{id: id, request: byID[id]})

		next := append([]JobID(nil), adjacency[id]...)
		sort.Slice(next, func(i, k int) bool { return next[i] < next[k] })
		for _, n := range next {
			indegree[n]--
			if indegree[n] == 0 {
				ready = append(ready, n)
			}
		}
	}

	if len(ordered) != len(jobs) {
		return nil, errs.New(errs.ValidationFailure, "scheduler", "topologicalOrder", "dependency graph contains a cycle")
	}
	return ordered, nil
}

// buildBatches groups consecutive same-queue-class jobs so they submit in a
// single queue call, matching how Vulkan lets one vkQueueSubmit2 carry many
// VkSubmitInfo2 entries.
func buildBatches(ordered []preparedJob) []batch {
	var batches []batch
	for _, j := range ordered {
		if len(batches) > 0 && batches[len(batches)-1].class == j.request.QueueClass {
			last := &batches[len(batches)-1]
			last.jobs = append(last.jobs, j)
			continue
		}
		batches = append(batches, batch{class: j.request.QueueClass, jobs: []preparedJob{j}})
	}
	return batches
}

// reclaimAutoSemaphores destroys auto-allocated binary semaphores whose
// retire fence has signaled, freeing them for the next frame that needs
// one. Called at the start of ExecuteFrame, grounded on
// fencePool.maintain's non-blocking recycle pass.
func (s *Scheduler) reclaimAutoSemaphores() {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.pendingAutoSemaphores[:0]
	for _, p := range s.pendingAutoSemaphores {
		signaled, err := p.retireFence.Status()
		if err == nil && signaled {
			s.device.DestroySemaphore(p.semaphore)
			s.device.DestroyFence(p.retireFence)
			continue
		}
		kept = append(kept, p)
	}
	s.pendingAutoSemaphores = kept
}

func toDeletionClass(c QueueClass) deletion.QueueClass {
	switch c {
	case Transfer:
		return deletion.QueueClassTransfer
	case Compute:
		return deletion.QueueClassCompute
	default:
		return deletion.QueueClassGraphics
	}
}

// ExecuteFrame orders this frame's jobs, batches them per queue class,
// materializes every dependency edge as a timeline wait (when the sync
// context supports one) or an auto-allocated binary semaphore, submits
// each batch, advances the deletion service's submitted watermark, and
// finally issues the present request if one was enqueued.
func (s *Scheduler) ExecuteFrame() (FrameExecutionResult, error) {
	s.reclaimAutoSemaphores()

	s.mu.Lock()
	jobsSnapshot := append([]enqueuedJob(nil), s.jobs...)
	depsSnapshot := append([]dependencyEdge(nil), s.dependencies...)
	present := s.presentRequest
	s.mu.Unlock()

	result := FrameExecutionResult{
		UsedTimelineSubmission: s.syncCtx.TimelineMode(),
		ComputeQueueAvailable:  s.queues.Compute != nil && s.device.QueueFamilies().HasComputeFamily,
		ComputeQueueDedicated:  s.device.QueueFamilies().ComputeDedicated,
	}
	if len(jobsSnapshot) == 0 && present == nil {
		return result, nil
	}

	ordered, err := topologicalOrder(jobsSnapshot, depsSnapshot)
	if err != nil {
		return result, err
	}
	batches := buildBatches(ordered)

	// ticketByJob/autoSemaphoreByJob map a job to the ticket/semaphore its
	// batch ends up signaling, resolved as soon as that job's batch is
	// actually submitted; every dependency's consumer appears in a later
	// batch by construction of topologicalOrder, so both are always
	// populated by the time a consumer batch needs them.
	ticketByJob := make(map[JobID]syncctx.SyncTicket, len(ordered))
	autoSemaphoreByJob := make(map[JobID]gpu.Semaphore)

	depsByConsumer := make(map[JobID][]dependencyEdge, len(depsSnapshot))
	for _, d := range depsSnapshot {
		depsByConsumer[d.consumer] = append(depsByConsumer[d.consumer], d)
	}

	frameSlot := s.frameSlot()
	fallbackPolicy := syncctx.DefaultSubmitFrameSyncPolicy()
	var lastBatchSemaphore gpu.Semaphore

	for _, b := range batches {
		resolvedQueue, usedFallback, err := s.resolveQueue(b.class)
		if err != nil {
			return result, err
		}
		if usedFallback {
			result.UsedComputeToGraphicsFallback = true
		}

		info := syncctx.SyncSubmitInfo{AllowAllCommandsFallback: true, DebugLabel: batchLabel(b)}
		var pendingRetireFence gpu.Fence
		var pendingAutoSem gpu.Semaphore

		for _, job := range b.jobs {
			info.CommandBuffers = append(info.CommandBuffers, job.request.CommandBuffers...)
			info.ExternalWaitSemaphores = append(info.ExternalWaitSemaphores, job.request.WaitSemaphores...)
			info.ExternalWaitStages = append(info.ExternalWaitStages, job.request.WaitStages...)
			info.ExternalSignalSemaphores = append(info.ExternalSignalSemaphores, job.request.SignalSemaphores...)

			for _, dep := range depsByConsumer[job.id] {
				if dep.semaphore != nil {
					info.ExternalWaitSemaphores = append(info.ExternalWaitSemaphores, dep.semaphore)
					info.ExternalWaitStages = append(info.ExternalWaitStages, dep.waitStage)
					continue
				}
				if inSameBatch(b, dep.producer) {
					continue // command-buffer order within one submit call already satisfies this edge
				}
				if s.syncCtx.TimelineMode() {
					if t, ok := ticketByJob[dep.producer]; ok {
						info.WaitTickets = append(info.WaitTickets, t)
						info.TimelineWaitStageMask = dep.waitStage
					}
					continue
				}
				if sem, ok := autoSemaphoreByJob[dep.producer]; ok {
					info.ExternalWaitSemaphores = append(info.ExternalWaitSemaphores, sem)
					info.ExternalWaitStages = append(info.ExternalWaitStages, dep.waitStage)
				}
			}
		}

		// In fence-ring mode, any job in a later batch may depend on this
		// one; pre-allocate an auto semaphore this batch signals so those
		// consumers can pick it up, reclaiming it once a fence we create
		// for that purpose signals.
		if !s.syncCtx.TimelineMode() && batchHasDownstreamConsumer(b, depsSnapshot) {
			sem, err := s.device.CreateBinarySemaphore()
			if err != nil {
				return result, errs.Wrap(errs.ResourceExhaustion, "scheduler", "ExecuteFrame", err)
			}
			pendingAutoSem = sem
			info.ExternalSignalSemaphores = append(info.ExternalSignalSemaphores, sem)
			fence, err := s.device.CreateFence(false)
			if err != nil {
				return result, errs.Wrap(errs.ResourceExhaustion, "scheduler", "ExecuteFrame", err)
			}
			pendingRetireFence = fence
			result.AutoSemaphoreCount++
		}

		ticket, err := s.syncCtx.Submit(resolvedQueue, frameSlot, info, pendingRetireFence, fallbackPolicy)
		if err != nil {
			return result, err
		}
		for _, job := range b.jobs {
			ticketByJob[job.id] = ticket
			if pendingAutoSem != nil {
				autoSemaphoreByJob[job.id] = pendingAutoSem
			}
		}
		if pendingAutoSem != nil {
			s.mu.Lock()
			s.pendingAutoSemaphores = append(s.pendingAutoSemaphores, pendingAutoSemaphore{semaphore: pendingAutoSem, retireFence: pendingRetireFence})
			s.mu.Unlock()
			lastBatchSemaphore = pendingAutoSem
		}

		if s.deletions != nil {
			if err := s.deletions.UpdateSubmittedTicket(s.deviceKey, deletion.SubmissionTicket{
				Value:            ticket.Value,
				QueueClass:       toDeletionClass(b.class),
				QueueFamilyIndex: resolvedQueue.Family(),
			}); err != nil {
				return result, err
			}
		}

		result.SubmittedJobCount += uint32(len(b.jobs))
		result.SubmitBatchCount++
	}

	if present != nil {
		result.HasPresent = true
		waits := append([]gpu.Semaphore(nil), present.WaitSemaphores...)
		if lastBatchSemaphore != nil && len(waits) == 0 {
			waits = append(waits, lastBatchSemaphore)
		}
		status, err := s.queues.Present.Present(gpu.PresentInfo{
			Swapchain:  present.Swapchain,
			ImageIndex: present.ImageIndex,
			Wait:       waits,
		})
		if err != nil {
			return result, err
		}
		result.PresentStatus = status
	}

	return result, nil
}

func batchLabel(b batch) string {
	if len(b.jobs) == 0 {
		return ""
	}
	if lbl := b.jobs[0].request.DebugLabel; lbl != "" {
		return lbl
	}
	return b.class.String() + "-batch"
}

func inSameBatch(b batch, id JobID) bool {
	for _, j := range b.jobs {
		if j.id == id {
			return true
		}
	}
	return false
}

func batchHasDownstreamConsumer(b batch, deps []dependencyEdge) bool {
	inBatch := make(map[JobID]bool, len(b.jobs))
	for _, j := range b.jobs {
		inBatch[j.id] = true
	}
	for _, d := range deps {
		if inBatch[d.producer] && !inBatch[d.consumer] {
			return true
		}
	}
	return false
}
