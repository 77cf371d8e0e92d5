package reconcile

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			filename  string
			savedPath string
			err       error
		)

		BeforeEach(func() {
			filename = "cheque.jpg"
		})

		JustBeforeEach(func() {
			savedPath, err = storage.Save(filename, []byte("image bytes"))
		})

		When("saving succeeds", func() {
			It("should return the name", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(savedPath).To(Equal(filename))
			})

			It("should save the file to disk", func() {
				Expect(filepath.Join(tmpDir, filename)).To(BeAnExistingFile())
			})
		})

		When("the name escapes the directory", func() {
			BeforeEach(func() {
				filename = "../outside.jpg"
			})

			It("returns an error", func() {
				Expect(err).To(MatchError(ContainSubstring("invalid file name")))
				Expect(filepath.Join(filepath.Dir(tmpDir), "outside.jpg")).NotTo(BeAnExistingFile())
			})
		})
	})

	Describe("Get", func() {
		It("should return the saved data", func() {
			_, err := storage.Save("cheque.jpg", []byte("image bytes"))
			Expect(err).NotTo(HaveOccurred())

			data, err := storage.Get("cheque.jpg")
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("image bytes"))
		})

		It("returns an error for a missing file", func() {
			_, err := storage.Get("missing.jpg")
			Expect(err).To(MatchError(ContainSubstring("reading file")))
		})
	})

	Describe("Delete", func() {
		It("should remove the file", func() {
			_, err := storage.Save("cheque.jpg", []byte("image bytes"))
			Expect(err).NotTo(HaveOccurred())

			Expect(storage.Delete("cheque.jpg")).To(Succeed())
			Expect(filepath.Join(tmpDir, "cheque.jpg")).NotTo(BeAnExistingFile())
		})

		It("should ignore a missing file", func() {
			Expect(storage.Delete("missing.jpg")).To(Succeed())
		})
	})

	Describe("NewLocalStorage", func() {
		It("should create a missing directory", func() {
			path := filepath.Join(GinkgoT().TempDir(), "cheques")
			_, err := NewLocalStorage(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(path).To(BeADirectory())
		})
	})
})

var _ = DescribeTable("sanitizeFilename",
	func(input, expected string) {
		Expect(sanitizeFilename(input)).To(Equal(expected))
	},
	Entry("plain name", "cheque.jpg", "cheque.jpg"),
	Entry("phone camera name", "IMG_2024 (1)!.JPEG", "IMG_2024 1.jpeg"),
	Entry("path components", "/tmp/../scan.pdf", "scan.pdf"),
	Entry("nothing left", "###.png", "cheque.png"),
	Entry("long name", "a123456789b123456789c123456789d123456789e123456789f123.png", "a123456789b123456789c123456789d123456789e123456789.png"),
)
