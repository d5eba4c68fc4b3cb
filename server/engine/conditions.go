package engine

import (
	"sort"
	"time"

	"github.com/azrihasin/proctoring/pkg/nn"
	"github.com/bmharper/flatbush-go"
)

// Sample is the structured classifier output for one tick. Ephemeral; not
// retained beyond the tick that produced it.
type Sample struct {
	FrameID     int64
	PTS         time.Time
	ImageWidth  int
	ImageHeight int
	Presence    []nn.ObjectDetection // person/face detector output
	Objects     []nn.ObjectDetection // general object detector output
	PresenceOK  bool                 // presence detector is wired and answered this tick
	ObjectsOK   bool                 // object detector is wired and answered this tick
}

// classifierSetup is resolved once at engine construction, from the
// detectors' model configs
type classifierSetup struct {
	objectClasses []string // class list of the object detector
	personClass   int      // index of the person/face class in the presence detector
	personLabel   string
}

// Boxes of the same class overlapping by at least this much are one subject
// reported twice, not two subjects.
const duplicateSubjectIOU = 0.65

// classifyConditions reduces a Sample to the conditions that are true this
// tick, in precedence order: restricted object, then second subject, then
// subject absent. Pure; no engine state is touched.
func classifyConditions(sample *Sample, policy *Policy, setup *classifierSetup) []Candidate {
	candidates := []Candidate{}
	if c := classifyRestrictedObject(sample, policy, setup.objectClasses); c != nil {
		candidates = append(candidates, *c)
	}
	if sample.PresenceOK {
		subjects := qualifyingSubjects(sample.Presence, policy.MinPresenceConfidence, setup.personClass)
		if len(subjects) >= 2 {
			// Score is the subject count, a severity rather than a probability
			score := float32(len(subjects))
			box := subjects[1].Box
			candidates = append(candidates, Candidate{
				Kind:  CondSecondSubject,
				Score: &score,
				Label: setup.personLabel,
				Box:   &box,
			})
		} else if len(subjects) == 0 {
			// Binary condition, no score
			candidates = append(candidates, Candidate{Kind: CondSubjectAbsent})
		}
	}
	return candidates
}

// classifyRestrictedObject picks the highest-confidence detection whose
// label is in the deny set and which passes the plausibility filter
func classifyRestrictedObject(sample *Sample, policy *Policy, objectClasses []string) *Candidate {
	if !sample.ObjectsOK {
		return nil
	}
	restricted := make(map[string]bool, len(policy.RestrictedLabels))
	for _, label := range policy.RestrictedLabels {
		restricted[label] = true
	}
	frameArea := float32(sample.ImageWidth * sample.ImageHeight)
	best := -1
	for i := range sample.Objects {
		det := &sample.Objects[i]
		if det.Confidence < policy.MinObjectConfidence {
			continue
		}
		label := ""
		if det.Class >= 0 && det.Class < len(objectClasses) {
			label = objectClasses[det.Class]
		}
		if !restricted[label] {
			continue
		}
		if !plausibleBox(det.Box, frameArea, policy) {
			continue
		}
		if best == -1 || det.Confidence > sample.Objects[best].Confidence {
			best = i
		}
	}
	if best == -1 {
		return nil
	}
	det := sample.Objects[best]
	score := det.Confidence
	box := det.Box
	return &Candidate{
		Kind:  CondRestrictedObject,
		Score: &score,
		Label: objectClasses[det.Class],
		Box:   &box,
	}
}

// plausibleBox rejects spurious detections by size and shape. A phone box
// covering half the frame, or a sliver 20x taller than wide, is far more
// likely to be a classifier artifact than a real handheld object.
func plausibleBox(box nn.Rect, frameArea float32, policy *Policy) bool {
	if frameArea <= 0 {
		return false
	}
	areaRatio := float32(box.Area()) / frameArea
	if areaRatio < policy.AreaRatio[0] || areaRatio > policy.AreaRatio[1] {
		return false
	}
	aspect := box.Aspect()
	if aspect < policy.AspectRatio[0] || aspect > policy.AspectRatio[1] {
		return false
	}
	return true
}

// qualifyingSubjects filters presence detections down to confident person
// boxes, then merges duplicates of the same subject
func qualifyingSubjects(dets []nn.ObjectDetection, minConfidence float32, personClass int) []nn.ObjectDetection {
	subjects := make([]nn.ObjectDetection, 0, len(dets))
	for _, det := range dets {
		if det.Class == personClass && det.Confidence >= minConfidence {
			subjects = append(subjects, det)
		}
	}
	return dedupeSubjects(subjects)
}

// dedupeSubjects runs a greedy suppression pass: accept boxes in descending
// confidence order, drop any remaining box that overlaps an accepted one by
// more than duplicateSubjectIOU. The spatial index keeps the overlap scan to
// boxes that can actually intersect.
func dedupeSubjects(subjects []nn.ObjectDetection) []nn.ObjectDetection {
	if len(subjects) < 2 {
		return subjects
	}
	sort.Slice(subjects, func(i, j int) bool {
		return subjects[i].Confidence > subjects[j].Confidence
	})
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(subjects))
	for i := range subjects {
		box := subjects[i].Box
		fb.Add(int32(box.X), int32(box.Y), int32(box.X2()), int32(box.Y2()))
	}
	fb.Finish()

	dropped := make([]bool, len(subjects))
	accepted := make([]nn.ObjectDetection, 0, len(subjects))
	nearby := []int{}
	for i := range subjects {
		if dropped[i] {
			continue
		}
		accepted = append(accepted, subjects[i])
		box := subjects[i].Box
		nearby = fb.SearchFast(int32(box.X), int32(box.Y), int32(box.X2()), int32(box.Y2()), nearby)
		for _, j := range nearby {
			if j > i && !dropped[j] && subjects[i].Box.IOU(subjects[j].Box) > duplicateSubjectIOU {
				dropped[j] = true
			}
		}
	}
	return accepted
}
