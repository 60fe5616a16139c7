package hostexec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	apiv1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"
	"k8s.io/client-go/util/homedir"

	"github.com/oabuhamdan/fleet/internal/errdefs"
)

// KubeRunner executes commands in pods through the exec subresource. Each
// emulated host is a single-container pod named after the host.
type KubeRunner struct {
	namespace  string
	client     *kubernetes.Clientset
	restConfig *rest.Config
	log        *zap.SugaredLogger
}

// NewKubeRunner builds a clientset from the given kubeconfig path. An
// empty path falls back to ~/.kube/config.
func NewKubeRunner(kubeconfig, namespace string, log *zap.SugaredLogger) (*KubeRunner, error) {
	if kubeconfig == "" {
		if home := homedir.HomeDir(); home != "" {
			kubeconfig = filepath.Join(home, ".kube", "config")
		}
	}
	restConfig, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("%w: building kube config from %s: %v", errdefs.ErrConfiguration, kubeconfig, err)
	}
	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: building kube client: %v", errdefs.ErrConfiguration, err)
	}
	if namespace == "" {
		namespace = apiv1.NamespaceDefault
	}
	return &KubeRunner{
		namespace:  namespace,
		client:     client,
		restConfig: restConfig,
		log:        log,
	}, nil
}

func (r *KubeRunner) Exec(ctx context.Context, host string, command []string) (string, string, error) {
	r.log.Debugf("[%s] exec: %v", host, command)

	var execOut, execErr bytes.Buffer
	err := r.stream(ctx, host, command, &execOut, &execErr)
	if err != nil {
		return execOut.String(), execErr.String(),
			fmt.Errorf("%w: exec in pod %s: %v: %s", errdefs.ErrProcessFailure, host, err, execErr.String())
	}
	return execOut.String(), execErr.String(), nil
}

func (r *KubeRunner) ExecStream(ctx context.Context, host string, command []string) (io.ReadCloser, error) {
	r.log.Debugf("[%s] exec stream: %v", host, command)

	pr, pw := io.Pipe()
	go func() {
		err := r.stream(ctx, host, command, pw, pw)
		pw.CloseWithError(err)
	}()
	return pr, nil
}

func (r *KubeRunner) stream(ctx context.Context, pod string, command []string, stdout, stderr io.Writer) error {
	req := r.client.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(pod).
		Namespace(r.namespace).
		SubResource("exec").
		VersionedParams(&apiv1.PodExecOptions{
			Command: command,
			Stdout:  true,
			Stderr:  true,
		}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(r.restConfig, "POST", req.URL())
	if err != nil {
		return fmt.Errorf("%w: reaching pod %s: %v", errdefs.ErrResourceUnavailable, pod, err)
	}
	return exec.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: stdout,
		Stderr: stderr,
		Tty:    false,
	})
}

// KubeProvider materializes hosts as single-container pods kept alive
// with a no-op command. Switch attachment is advisory here: the cluster
// network fabric owns connectivity, so the switch id only lands in the
// pod labels.
type KubeProvider struct {
	runner *KubeRunner
	log    *zap.SugaredLogger
}

func NewKubeProvider(runner *KubeRunner, log *zap.SugaredLogger) *KubeProvider {
	return &KubeProvider{runner: runner, log: log}
}

func (p *KubeProvider) EnsureNetwork(ctx context.Context, name, cidr string) error {
	p.log.Debugf("network %s (%s) delegated to the cluster fabric", name, cidr)
	return nil
}

func (p *KubeProvider) AddHost(ctx context.Context, spec HostSpec) (string, error) {
	pod := &apiv1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.Name,
			Namespace: p.runner.namespace,
			Labels: map[string]string{
				"fleet":  "host",
				"switch": spec.Switch,
			},
		},
		Spec: apiv1.PodSpec{
			Containers: []apiv1.Container{
				{
					Name:    spec.Name,
					Image:   spec.Image,
					Command: []string{"tail", "-f", "/dev/null"},
					Stdin:   true,
					TTY:     true,
					Resources: apiv1.ResourceRequirements{
						Limits: apiv1.ResourceList{
							apiv1.ResourceCPU:    *resource.NewMilliQuantity(int64(spec.CPU*1000), resource.DecimalSI),
							apiv1.ResourceMemory: *resource.NewQuantity(int64(spec.MemMB)*1024*1024, resource.BinarySI),
						},
					},
				},
			},
		},
	}

	created, err := p.runner.client.CoreV1().Pods(p.runner.namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		return "", fmt.Errorf("%w: creating pod %s: %v", errdefs.ErrResourceUnavailable, spec.Name, err)
	}

	running, err := p.waitForRunning(ctx, created.Name)
	if err != nil {
		return "", err
	}
	p.log.Infof("created host %s at %s (switch %s)", spec.Name, running.Status.PodIP, spec.Switch)
	return running.Status.PodIP, nil
}

// waitForRunning polls the pod phase until it runs or the context ends.
func (p *KubeProvider) waitForRunning(ctx context.Context, name string) (*apiv1.Pod, error) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		pod, err := p.runner.client.CoreV1().Pods(p.runner.namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return nil, fmt.Errorf("%w: watching pod %s: %v", errdefs.ErrResourceUnavailable, name, err)
		}
		switch pod.Status.Phase {
		case apiv1.PodRunning:
			return pod, nil
		case apiv1.PodFailed, apiv1.PodSucceeded:
			return nil, fmt.Errorf("%w: pod %s ended in phase %s before running", errdefs.ErrProcessFailure, name, pod.Status.Phase)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: pod %s not running: %v", errdefs.ErrResourceUnavailable, name, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (p *KubeProvider) RemoveHost(ctx context.Context, name string) error {
	return p.runner.client.CoreV1().Pods(p.runner.namespace).Delete(ctx, name, metav1.DeleteOptions{})
}
