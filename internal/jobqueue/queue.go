package jobqueue

// Func はワーカーが実行する関数
type Func func(arg any)

// Job はキューに積まれる遅延実行の単位
type Job struct {
	fn  Func
	arg any

	prev *Job
	next *Job
}

// NewJob は新しいジョブを作成する
func NewJob(fn Func, arg any) *Job {
	return &Job{fn: fn, arg: arg}
}

// Arg はジョブの引数を返す
func (j *Job) Arg() any {
	return j.arg
}

// Run はジョブを実行する
func (j *Job) Run() {
	j.fn(j.arg)
}

// Queue は先頭から取り出し末尾に追加する FIFO キュー
type Queue struct {
	head   *Job
	tail   *Job
	length int
}

// New は空のキューを作成する
func New() *Queue {
	return &Queue{}
}

// Push はジョブを末尾に追加する
func (q *Queue) Push(job *Job) {
	job.next = nil
	job.prev = q.tail

	if q.tail == nil {
		q.head = job
	} else {
		q.tail.next = job
	}
	q.tail = job
	q.length++
}

// Pop は先頭のジョブを取り出す。空なら nil を返す
func (q *Queue) Pop() *Job {
	job := q.head
	if job == nil {
		return nil
	}

	q.head = job.next
	if q.head == nil {
		// 最後の1件
		q.tail = nil
	} else {
		q.head.prev = nil
	}
	q.length--

	job.next = nil
	job.prev = nil
	return job
}

// Drain は残っている全ジョブを末尾から取り除く。
// discard が nil でなければ各ジョブに対して呼び出す。
// 取り除いた件数を返す
func (q *Queue) Drain(discard func(*Job)) int {
	n := 0
	for job := q.tail; job != nil; {
		prev := job.prev
		job.prev = nil
		job.next = nil
		if discard != nil {
			discard(job)
		}
		job = prev
		n++
	}

	q.head = nil
	q.tail = nil
	q.length = 0
	return n
}

// Len はキュー内のジョブ数を返す
func (q *Queue) Len() int {
	return q.length
}
