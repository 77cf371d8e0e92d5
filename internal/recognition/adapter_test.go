package recognition

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// mockEngine is a mock implementation of Engine
type mockEngine struct {
	result   *Result
	err      error
	panicMsg string
	delay    time.Duration
	steps    []Progress

	mu          sync.Mutex
	calls       int
	contentType string
}

func (m *mockEngine) Recognize(ctx context.Context, imageData []byte, contentType string, progress ProgressFunc) (*Result, error) {
	m.mu.Lock()
	m.calls++
	m.contentType = contentType
	m.mu.Unlock()

	for _, step := range m.steps {
		if progress != nil {
			progress(step)
		}
	}
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.result, m.err
}

func (m *mockEngine) Name() string {
	return "mock"
}

func (m *mockEngine) Close() error {
	return nil
}

// stubbornEngine ignores cancellation
type stubbornEngine struct {
	release chan struct{}
}

func (s *stubbornEngine) Recognize(ctx context.Context, imageData []byte, contentType string, progress ProgressFunc) (*Result, error) {
	<-s.release
	return &Result{Text: "late"}, nil
}

func (s *stubbornEngine) Name() string { return "stubborn" }
func (s *stubbornEngine) Close() error { return nil }

var _ = Describe("Adapter", func() {
	var (
		engine  *mockEngine
		adapter *Adapter
		outcome Outcome
		reports []Progress
	)

	BeforeEach(func() {
		engine = &mockEngine{result: &Result{Text: "Pay Amit Sharma", Confidence: 88}}
		adapter = NewAdapter(engine, time.Second)
		reports = nil
	})

	JustBeforeEach(func() {
		outcome = adapter.Recognize(context.Background(), []byte("img"), "image/png", func(p Progress) {
			reports = append(reports, p)
		})
	})

	When("the engine succeeds", func() {
		It("should return a successful outcome with the result", func() {
			Expect(outcome.Success).To(BeTrue())
			Expect(outcome.Error).To(BeEmpty())
			Expect(outcome.Result.Text).To(Equal("Pay Amit Sharma"))
			Expect(outcome.Result.Confidence).To(Equal(88.0))
			Expect(outcome.Engine).To(Equal("mock"))
		})

		It("should pass the content type through", func() {
			Expect(engine.contentType).To(Equal("image/png"))
		})

		It("should report start and finish", func() {
			Expect(reports).NotTo(BeEmpty())
			Expect(reports[0].Progress).To(Equal(0.0))
			Expect(reports[len(reports)-1].Progress).To(Equal(1.0))
		})
	})

	When("the engine reports its own progress", func() {
		BeforeEach(func() {
			engine.steps = []Progress{{Status: "recognizing text", Progress: 0.5}}
		})

		It("should forward it", func() {
			Expect(reports).To(ContainElement(Progress{Status: "recognizing text", Progress: 0.5}))
		})
	})

	When("the engine reports an out-of-range confidence", func() {
		BeforeEach(func() {
			engine.result = &Result{Text: "x", Confidence: 250}
		})

		It("should clamp it", func() {
			Expect(outcome.Result.Confidence).To(Equal(100.0))
		})
	})

	When("the engine fails", func() {
		BeforeEach(func() {
			engine.result = nil
			engine.err = errors.New("quota exceeded")
		})

		It("should return a failed outcome with the message", func() {
			Expect(outcome.Success).To(BeFalse())
			Expect(outcome.Result).To(BeNil())
			Expect(outcome.Error).To(ContainSubstring("quota exceeded"))
		})
	})

	When("the engine panics", func() {
		BeforeEach(func() {
			engine.panicMsg = "nil map"
		})

		It("should return a failed outcome", func() {
			Expect(outcome.Success).To(BeFalse())
			Expect(outcome.Error).To(ContainSubstring("nil map"))
		})
	})

	When("the engine returns neither result nor error", func() {
		BeforeEach(func() {
			engine.result = nil
		})

		It("should return a failed outcome", func() {
			Expect(outcome.Success).To(BeFalse())
			Expect(outcome.Error).To(Equal("engine returned no result"))
		})
	})

	When("the engine is slower than the timeout", func() {
		BeforeEach(func() {
			engine.delay = time.Second
			adapter = NewAdapter(engine, 20*time.Millisecond)
		})

		It("should return a timed out outcome", func() {
			Expect(outcome.Success).To(BeFalse())
			Expect(outcome.Error).To(ContainSubstring("timed out"))
		})
	})

	When("the progress callback panics", func() {
		It("should still succeed", func() {
			out := adapter.Recognize(context.Background(), []byte("img"), "image/png", func(Progress) {
				panic("broken sink")
			})
			Expect(out.Success).To(BeTrue())
		})
	})

	It("should give up on an engine that ignores cancellation", func() {
		stubborn := &stubbornEngine{release: make(chan struct{})}
		defer close(stubborn.release)

		out := NewAdapter(stubborn, 20*time.Millisecond).Recognize(context.Background(), []byte("img"), "image/png", nil)
		Expect(out.Success).To(BeFalse())
		Expect(out.Engine).To(Equal("stubborn"))
	})

	It("should use the default timeout when none is given", func() {
		Expect(NewAdapter(engine, 0).timeout).To(Equal(DefaultTimeout))
	})
})

var _ = Describe("CheckUpload", func() {
	DescribeTable("accepted files",
		func(contentType string) {
			Expect(CheckUpload(contentType, 1024)).To(Succeed())
		},
		Entry("jpeg", "image/jpeg"),
		Entry("png with parameters", "image/png; charset=binary"),
		Entry("heic", "image/heic"),
		Entry("pdf", "application/pdf"),
		Entry("upper case", "IMAGE/JPEG"),
	)

	It("rejects an empty file", func() {
		Expect(errors.Is(CheckUpload("image/png", 0), ErrEmptyImage)).To(BeTrue())
	})

	It("rejects a non-image type", func() {
		Expect(errors.Is(CheckUpload("text/plain", 10), ErrUnsupportedType)).To(BeTrue())
	})

	It("rejects a missing type", func() {
		Expect(errors.Is(CheckUpload("", 10), ErrUnsupportedType)).To(BeTrue())
	})

	It("accepts exactly the maximum size", func() {
		Expect(CheckUpload("image/png", MaxImageSize)).To(Succeed())
	})

	It("rejects a file over the maximum size", func() {
		Expect(errors.Is(CheckUpload("image/png", MaxImageSize+1), ErrImageTooLarge)).To(BeTrue())
	})
})
